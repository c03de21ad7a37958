package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"gachalab/internal/auth"
	"gachalab/internal/gacha"
	"gachalab/internal/models"
)

type spinRequest struct {
	GachaID string `json:"gacha_id"`
}

// readGachaID returns the gacha id or a 400 error code.
func (s *Server) readGachaID(c *gin.Context) (string, string) {
	if id := strings.TrimSpace(c.Query("gacha_id")); id != "" {
		return id, ""
	}
	raw, _ := c.GetRawData()
	if len(bytes.TrimSpace(raw)) == 0 {
		if s.Cfg.DefaultGachaID != "" {
			return s.Cfg.DefaultGachaID, ""
		}
		return "", "EMPTY_BODY"
	}
	var req spinRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return "", "INVALID_JSON"
	}
	if id := strings.TrimSpace(req.GachaID); id != "" {
		return id, ""
	}
	if s.Cfg.DefaultGachaID != "" {
		return s.Cfg.DefaultGachaID, ""
	}
	return "", "MISSING_GACHA_ID"
}

func (s *Server) Spin(c *gin.Context) {
	gachaID, code := s.readGachaID(c)
	if code != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": code})
		return
	}
	ctx := c.Request.Context()
	caller, err := s.Identity.Resolve(ctx, c.Request, true)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED"})
			return
		}
		log.Printf("guest token error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "GUEST_TOKEN_FAILED"})
		return
	}
	if caller.Minted {
		http.SetCookie(c.Writer, s.Identity.Cookie(caller.GuestToken))
	}
	if !s.allowSpin(ctx, caller.Identity) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "RATE_LIMITED"})
		return
	}

	out, err := s.Engine.Resolve(ctx, gachaID, caller.Identity)
	if err != nil {
		var gerr *gacha.Error
		if errors.As(err, &gerr) {
			log.Printf("spin failed: gacha=%s err=%v", gachaID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": gerr.Code})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR"})
		return
	}

	switch out.Status {
	case gacha.StatusNotFound:
		c.JSON(http.StatusNotFound, gin.H{"status": "ERROR", "code": string(out.Status)})
		return
	case gacha.StatusInactive:
		c.JSON(http.StatusOK, gin.H{"status": "ERROR", "code": string(out.Status)})
		return
	case gacha.StatusNeedLoginFree, gacha.StatusPaywall:
		c.JSON(http.StatusOK, gin.H{"status": string(out.Status)})
		return
	}

	s.afterSpin(ctx, caller.Identity, out)

	var redeem *gacha.RedeemInfo
	if out.Result == models.ResultWin {
		redeem = out.Redeem
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      string(out.Status),
		"result":      out.Result,
		"redeem":      redeem,
		"guest_token": caller.GuestToken,
	})
}

// afterSpin feeds the cache, counters and win feed. None of it can fail the spin.
func (s *Server) afterSpin(ctx context.Context, id models.Identity, out *gacha.Outcome) {
	if out.Record != nil {
		s.cacheLastSpin(ctx, id, *out.Record)
	}
	s.bumpSpinStat(out.GachaID, out.Result)
	if out.Result == models.ResultWin && out.Redeem != nil {
		s.publishWin(ctx, winEvent{
			GachaID: out.GachaID,
			Prize:   out.Redeem.Prize,
			At:      time.Now().UnixMilli(),
		})
	}
}

// allowSpin counts spins per identity per minute; Redis errors let the spin through.
func (s *Server) allowSpin(ctx context.Context, id models.Identity) bool {
	if s.Redis == nil || s.Cfg.SpinRateLimit <= 0 {
		return true
	}
	key := spinRateKey(id, time.Now().Unix()/60)
	n, err := s.Redis.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("rate limit error: %v", err)
		return true
	}
	if n == 1 {
		_ = s.Redis.Expire(ctx, key, 2*time.Minute).Err()
	}
	return n <= int64(s.Cfg.SpinRateLimit)
}
