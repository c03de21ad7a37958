package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"gachalab/internal/identity"
	"gachalab/internal/models"
	"gachalab/internal/store"
)

func noState() gin.H {
	return gin.H{"exists": false, "status": "NO_STATE"}
}

// LastSpin never fails: anything unexpected degrades to NO_STATE.
func (s *Server) LastSpin(c *gin.Context) {
	ctx := c.Request.Context()
	var id models.Identity
	caller, err := s.Identity.Resolve(ctx, c.Request, false)
	if err == nil {
		id = caller.Identity
	} else if tok := s.Identity.GuestToken(c.Request); tok != "" {
		// a rejected bearer still has its guest history
		id = models.Identity{GuestTokenHash: identity.HashToken(tok)}
	}
	if id.UserID == "" && id.GuestTokenHash == "" {
		c.JSON(http.StatusOK, noState())
		return
	}
	gachaID := strings.TrimSpace(c.Query("gacha_id"))
	since := time.Now().Add(-s.Cfg.LastSpinTTL)

	rec := s.cachedLastSpin(ctx, id)
	if rec == nil || (gachaID != "" && rec.GachaID != gachaID) || !rec.CreatedAt.After(since) {
		rec, err = s.Store.LastSpin(ctx, store.LastSpinQuery{Identity: id, GachaID: gachaID, Since: since})
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				log.Printf("last-spin lookup failed: %v", err)
			}
			c.JSON(http.StatusOK, noState())
			return
		}
	}

	var redeem gin.H
	if code := models.Deref(rec.RedeemCode); code != "" {
		redeem = gin.H{"code": code}
	}
	c.JSON(http.StatusOK, gin.H{
		"exists":     true,
		"gacha_id":   rec.GachaID,
		"result":     rec.Result,
		"redeem":     redeem,
		"created_at": rec.CreatedAt,
	})
}

func (s *Server) cacheLastSpin(ctx context.Context, id models.Identity, rec models.SpinRecord) {
	if s.Redis == nil {
		return
	}
	if err := s.Redis.Set(ctx, lastSpinKey(id), mustJSON(rec), s.Cfg.LastSpinTTL).Err(); err != nil {
		log.Printf("last-spin cache write failed: %v", err)
	}
}

func (s *Server) cachedLastSpin(ctx context.Context, id models.Identity) *models.SpinRecord {
	if s.Redis == nil {
		return nil
	}
	raw, err := s.Redis.Get(ctx, lastSpinKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("last-spin cache read failed: %v", err)
		}
		return nil
	}
	var rec models.SpinRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil
	}
	return &rec
}
