package handlers

import (
	"context"
	"log"
	"time"

	"gachalab/internal/models"
)

// OrderWorker polls PENDING credit orders until Alipay settles them.
type OrderWorker struct {
	srv          *Server
	pollInterval time.Duration
	batchSize    int
}

func NewOrderWorker(srv *Server) *OrderWorker {
	return &OrderWorker{
		srv:          srv,
		pollInterval: 5 * time.Second,
		batchSize:    50,
	}
}

func (w *OrderWorker) Run(ctx context.Context) {
	if w == nil || w.srv == nil || w.srv.Store == nil {
		log.Printf("order worker: store not configured")
		return
	}
	if w.srv.Payments == nil {
		log.Printf("order worker: alipay not configured")
		return
	}
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		if _, err := w.processOnce(ctx); err != nil {
			log.Printf("order worker error: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// processOnce syncs one batch and returns how many orders left PENDING.
func (w *OrderWorker) processOnce(ctx context.Context) (int, error) {
	orders, err := w.srv.Store.ListCreditOrders(ctx, models.OrderPending, w.batchSize)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, order := range orders {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		status, err := w.srv.syncOrder(ctx, order)
		if err != nil {
			log.Printf("order sync failed: order=%s err=%v", order.ID, err)
			continue
		}
		if status != models.OrderPending {
			settled++
		}
	}
	return settled, nil
}
