package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Shared by every instance through Redis; process-local otherwise.
const paymentsSwitchKey = "cfg:payments_enabled"

var errPaymentsNotConfigured = errors.New("payment gateway not configured")

// paymentsState is the admin view of checkout: the operator switch, whether a
// gateway was built at startup, and the two combined.
type paymentsState struct {
	Enabled    bool `json:"enabled"`
	Configured bool `json:"configured"`
	Available  bool `json:"available"`
}

func (s *Server) currentPaymentsState() paymentsState {
	st := paymentsState{Enabled: s.paymentsEnabled.Load(), Configured: s.Payments != nil}
	st.Available = st.Enabled && st.Configured
	return st
}

func (s *Server) loadPaymentsSwitch() {
	if s.Redis == nil {
		return
	}
	val, err := s.Redis.Get(context.Background(), paymentsSwitchKey).Result()
	if err != nil {
		return
	}
	s.paymentsEnabled.Store(parseBool(val, s.paymentsEnabled.Load()))
}

func (s *Server) paymentsAvailable() bool {
	return s.currentPaymentsState().Available
}

// SetPaymentsEnabled flips the checkout switch. Turning it on without a
// gateway is refused.
func (s *Server) SetPaymentsEnabled(ctx context.Context, enabled bool) error {
	if enabled && s.Payments == nil {
		return errPaymentsNotConfigured
	}
	s.paymentsEnabled.Store(enabled)
	if s.Redis == nil {
		return nil
	}
	val := "0"
	if enabled {
		val = "1"
	}
	if err := s.Redis.Set(ctx, paymentsSwitchKey, val, 0).Err(); err != nil {
		log.Printf("payments switch persist failed: %v", err)
	}
	return nil
}

func (s *Server) GetPaymentsSwitch(c *gin.Context) {
	c.JSON(http.StatusOK, s.currentPaymentsState())
}

func (s *Server) SetPaymentsSwitch(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_JSON"})
		return
	}
	if err := s.SetPaymentsEnabled(c.Request.Context(), *req.Enabled); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "PAYMENTS_NOT_CONFIGURED"})
		return
	}
	c.JSON(http.StatusOK, s.currentPaymentsState())
}

func parseBool(val string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}
