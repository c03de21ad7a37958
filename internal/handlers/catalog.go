package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"gachalab/internal/payments"
)

const catalogLimit = 20

func (s *Server) ListGachas(c *gin.Context) {
	gachas, err := s.Store.ListGachas(c.Request.Context(), true, catalogLimit)
	if err != nil {
		log.Printf("gacha list failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "GACHA_LOOKUP_FAILED"})
		return
	}
	items := make([]gin.H, 0, len(gachas))
	for _, g := range gachas {
		items = append(items, gin.H{
			"id":        g.ID,
			"name":      g.Name,
			"win_rate":  g.EffectiveWinRate(),
			"is_active": g.IsActive,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// ListGachaPrizes shows what is still winnable; weights stay private.
func (s *Server) ListGachaPrizes(c *gin.Context) {
	prizes, err := s.Store.ListAvailablePrizes(c.Request.Context(), c.Param("id"))
	if err != nil {
		log.Printf("prize list failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "PRIZES_LOOKUP_FAILED"})
		return
	}
	items := make([]gin.H, 0, len(prizes))
	for _, p := range prizes {
		items = append(items, gin.H{
			"id":        p.ID,
			"name":      p.Name,
			"image_url": p.ImageURL,
			"stock":     p.Stock,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// GetConfig returns what the frontend needs before its first spin.
func (s *Server) GetConfig(c *gin.Context) {
	packs := make([]gin.H, 0, len(s.Cfg.CreditPacks))
	for _, p := range s.Cfg.CreditPacks {
		packs = append(packs, gin.H{
			"id":         p.ID,
			"credits":    p.Credits,
			"amount_fen": p.AmountFen,
			"amount":     payments.FenToYuan(p.AmountFen),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"default_gacha_id": s.Cfg.DefaultGachaID,
		"credit_packs":     packs,
		"payments_enabled": s.paymentsAvailable(),
	})
}
