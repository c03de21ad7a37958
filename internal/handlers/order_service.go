package handlers

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"gachalab/internal/models"
	"gachalab/internal/payments"
)

type checkoutRequest struct {
	PackID string `json:"pack_id"`
}

func (s *Server) Checkout(c *gin.Context) {
	if !s.paymentsAvailable() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "PAYMENTS_DISABLED"})
		return
	}
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_JSON"})
		return
	}
	pack, ok := s.Cfg.CreditPack(strings.TrimSpace(req.PackID))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "UNKNOWN_PACK"})
		return
	}
	ctx := c.Request.Context()
	now := time.Now().UTC()
	order, err := s.Store.CreateCreditOrder(ctx, models.CreditOrder{
		OutTradeNo: newOutTradeNo(now),
		UserID:     c.GetString(ctxUserID),
		PackID:     pack.ID,
		Credits:    pack.Credits,
		AmountFen:  pack.AmountFen,
		Status:     models.OrderPending,
		CreatedAt:  now,
	})
	if err != nil {
		log.Printf("order create failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ORDER_CREATE_FAILED"})
		return
	}
	payURL, err := s.Payments.PagePay(ctx, payments.CheckoutRequest{
		OutTradeNo: order.OutTradeNo,
		AmountFen:  order.AmountFen,
		Timeout:    s.Cfg.OrderExpire,
	})
	if err != nil {
		log.Printf("page pay failed: order=%s err=%v", order.ID, err)
		_, _ = s.Store.TransitionCreditOrder(ctx, order.ID, models.OrderClosed, now)
		c.JSON(http.StatusBadGateway, gin.H{"error": "PAYMENT_INIT_FAILED"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order_id":     order.ID,
		"out_trade_no": order.OutTradeNo,
		"amount":       payments.FenToYuan(order.AmountFen),
		"credits":      order.Credits,
		"pay_url":      payURL,
	})
}

// syncOrder reconciles a PENDING order with the trade state and returns the
// order's status afterwards.
func (s *Server) syncOrder(ctx context.Context, order models.CreditOrder) (models.OrderStatus, error) {
	if order.Status != models.OrderPending {
		return order.Status, nil
	}
	if s.Payments == nil {
		return order.Status, payments.ErrNotConfigured
	}
	res, err := s.Payments.QueryTrade(ctx, order.OutTradeNo)
	if err != nil && !res.Missing() {
		return order.Status, err
	}
	now := time.Now().UTC()
	switch {
	case res.Paid():
		return s.markOrderPaid(ctx, order, now)
	case res.Closed():
		return s.closeOrder(ctx, order, now)
	case s.Cfg.OrderExpire > 0 && now.Sub(order.CreatedAt) > s.Cfg.OrderExpire:
		return s.closeOrder(ctx, order, now)
	}
	return order.Status, nil
}

// markOrderPaid wins the PENDING->PAID transition at most once, so credits
// are granted exactly once however many syncs race.
func (s *Server) markOrderPaid(ctx context.Context, order models.CreditOrder, now time.Time) (models.OrderStatus, error) {
	ok, err := s.Store.TransitionCreditOrder(ctx, order.ID, models.OrderPaid, now)
	if err != nil {
		return order.Status, err
	}
	if !ok {
		return s.currentOrderStatus(ctx, order)
	}
	balance, err := s.Store.AddCredits(ctx, order.UserID, order.Credits, now)
	if err != nil {
		log.Printf("credit grant failed: order=%s user=%s credits=%d err=%v", order.ID, order.UserID, order.Credits, err)
		return models.OrderPaid, err
	}
	log.Printf("order paid: order=%s user=%s credits=%d balance=%d", order.ID, order.UserID, order.Credits, balance)
	return models.OrderPaid, nil
}

func (s *Server) closeOrder(ctx context.Context, order models.CreditOrder, now time.Time) (models.OrderStatus, error) {
	ok, err := s.Store.TransitionCreditOrder(ctx, order.ID, models.OrderClosed, now)
	if err != nil {
		return order.Status, err
	}
	if !ok {
		return s.currentOrderStatus(ctx, order)
	}
	return models.OrderClosed, nil
}

func (s *Server) currentOrderStatus(ctx context.Context, order models.CreditOrder) (models.OrderStatus, error) {
	latest, err := s.Store.GetCreditOrder(ctx, order.ID)
	if err != nil {
		return order.Status, err
	}
	return latest.Status, nil
}
