package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gachalab/internal/models"
	"gachalab/internal/payments"
	"gachalab/internal/store"
)

func (s *Server) ListOrdersAdmin(c *gin.Context) {
	status := models.OrderStatus(strings.ToUpper(strings.TrimSpace(c.Query("status"))))
	limit := parseIntWithDefault(c.Query("limit"), 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	orders, err := s.Store.ListCreditOrders(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ORDERS_LOOKUP_FAILED"})
		return
	}
	items := make([]gin.H, 0, len(orders))
	for _, o := range orders {
		item := gin.H{
			"id":           o.ID,
			"out_trade_no": o.OutTradeNo,
			"user_id":      o.UserID,
			"pack_id":      o.PackID,
			"credits":      o.Credits,
			"amount":       payments.FenToYuan(o.AmountFen),
			"status":       o.Status,
			"created_at":   o.CreatedAt.UnixMilli(),
		}
		if o.PaidAt != nil {
			item["paid_at"] = o.PaidAt.UnixMilli()
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) SyncOrderAdmin(c *gin.Context) {
	ctx := c.Request.Context()
	order, err := s.Store.GetCreditOrder(ctx, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "NOT_FOUND"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ORDERS_LOOKUP_FAILED"})
		return
	}
	status, err := s.syncOrder(ctx, *order)
	if err != nil {
		log.Printf("order sync failed: order=%s err=%v", order.ID, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "ORDER_SYNC_FAILED", "status": status})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": order.ID, "status": status})
}
