package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Routes wires every endpoint onto a fresh engine.
func (s *Server) Routes() *gin.Engine {
	r := gin.Default()
	r.HandleMethodNotAllowed = true
	r.Use(s.CORS())
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "NOT_FOUND"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "METHOD_NOT_ALLOWED"})
	})

	r.GET("/ws/feed", func(c *gin.Context) {
		s.HandleFeed(c.Writer, c.Request)
	})

	api := r.Group("/api")
	{
		api.POST("/spin", s.Spin)
		api.GET("/last-spin", s.LastSpin)
		api.GET("/me", s.UserRequired(), s.GetMe)
		api.POST("/claim-guest", s.UserRequired(), s.ClaimGuest)
		api.POST("/track", s.Track)

		api.GET("/config", s.GetConfig)
		api.GET("/gachas", s.ListGachas)
		api.GET("/gachas/:id/prizes", s.ListGachaPrizes)

		api.GET("/credits", s.UserRequired(), s.GetCredits)
		api.POST("/credits/checkout", s.UserRequired(), s.Checkout)

		api.POST("/admin/login", s.AdminLogin)

		admin := api.Group("/admin", s.AdminRequired())
		admin.GET("/gachas/:id", s.GetGachaAdmin)
		admin.PATCH("/gachas/:id", s.PatchGacha)
		admin.GET("/gachas/:id/prizes", s.ListPrizesAdmin)
		admin.GET("/gachas/:id/stats", s.GetGachaStats)
		admin.PATCH("/prizes/:id", s.PatchPrize)
		admin.GET("/orders", s.ListOrdersAdmin)
		admin.POST("/orders/:id/sync", s.SyncOrderAdmin)
		admin.GET("/payments_switch", s.GetPaymentsSwitch)
		admin.POST("/payments_switch", s.SetPaymentsSwitch)
		admin.POST("/cache/reset", s.CacheReset)
	}

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}
