package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gachalab/internal/identity"
	"gachalab/internal/models"
)

const meRedeemLimit = 20

func (s *Server) GetMe(c *gin.Context) {
	uid := c.GetString(ctxUserID)
	redeems, err := s.Store.ListUserRedeems(c.Request.Context(), uid, meRedeemLimit)
	if err != nil {
		log.Printf("redeems lookup failed: user=%s err=%v", uid, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "REDEEMS_LOOKUP_FAILED"})
		return
	}
	items := make([]gin.H, 0, len(redeems))
	for _, r := range redeems {
		items = append(items, gin.H{
			"redeem_code": r.RedeemCode,
			"status":      r.Status,
			"issued_at":   r.IssuedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// ClaimGuest moves redeems won as a guest onto the signed-in user. Running it
// twice claims nothing the second time.
func (s *Server) ClaimGuest(c *gin.Context) {
	uid := c.GetString(ctxUserID)
	token := s.Identity.GuestToken(c.Request)
	if token == "" {
		c.JSON(http.StatusOK, gin.H{"claimed": 0, "guest_token": nil})
		return
	}
	n, err := s.Store.ClaimGuestRedeems(c.Request.Context(), identity.HashToken(token), uid)
	if err != nil {
		log.Printf("claim failed: user=%s err=%v", uid, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "CLAIM_FAILED"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"claimed": n, "guest_token": token})
}

func (s *Server) GetCredits(c *gin.Context) {
	uid := c.GetString(ctxUserID)
	balance, err := s.Store.GetCreditBalance(c.Request.Context(), uid)
	if err != nil {
		log.Printf("credits lookup failed: user=%s err=%v", uid, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "CREDITS_LOOKUP_FAILED"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

type trackRequest struct {
	EventName string `json:"event_name"`
	Reason    string `json:"reason"`
	GachaID   string `json:"gacha_id"`
}

// Track records a funnel event; it always answers ok.
func (s *Server) Track(c *gin.Context) {
	var req trackRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.EventName == "" || req.Reason == "" || req.GachaID == "" {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	ctx := c.Request.Context()
	ev := models.TrackEvent{
		EventName: req.EventName,
		Reason:    req.Reason,
		GachaID:   req.GachaID,
		CreatedAt: time.Now().UTC(),
	}
	// an invalid bearer still records the event, just without an owner
	if caller, err := s.Identity.Resolve(ctx, c.Request, false); err == nil {
		ev.UserID, ev.GuestTokenHash = caller.Identity.Owner()
	}
	if err := s.Store.InsertEvent(ctx, ev); err != nil {
		log.Printf("track insert failed: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
