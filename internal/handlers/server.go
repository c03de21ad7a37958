package handlers

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"gachalab/internal/auth"
	"gachalab/internal/config"
	"gachalab/internal/gacha"
	"gachalab/internal/identity"
	"gachalab/internal/payments"
	"gachalab/internal/store"
)

const adminSessionTTL = 8 * time.Hour

type Server struct {
	Cfg             config.Config
	Store           store.Store
	Redis           *redis.Client
	Engine          *gacha.Engine
	Identity        *identity.Resolver
	JWTSecret       []byte
	Hub             *Hub
	Payments        payments.Gateway
	paymentsEnabled atomic.Bool
	spinCounters    sync.Map
}

func NewServer(cfg config.Config, st store.Store, rdb *redis.Client) *Server {
	srv := &Server{
		Cfg:   cfg,
		Store: st,
		Redis: rdb,
		Engine: gacha.NewEngine(st, gacha.Options{
			RedeemTTL: cfg.RedeemTTL,
		}),
		Identity: &identity.Resolver{
			Verifier:   auth.NewVerifier(cfg.AuthMode, cfg.SupabaseJWTSecret, cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, cfg.StoreTimeout),
			CookieName: cfg.GuestCookieName,
			MaxAge:     cfg.GuestCookieMaxAge,
			Secure:     cfg.SecureCookies(),
		},
		JWTSecret: []byte(cfg.JWTSecret),
		Hub:       NewHub(),
	}
	alipayClient, err := payments.NewAlipayClient(payments.AlipayConfig{
		AppID:              cfg.AlipayAppID,
		PrivateKey:         cfg.AlipayPrivateKey,
		AppCertPath:        cfg.AlipayAppCertPath,
		AlipayCertPath:     cfg.AlipayAlipayCertPath,
		AlipayRootCertPath: cfg.AlipayRootCertPath,
		Env:                cfg.AlipayEnv,
		NotifyURL:          cfg.AlipayNotifyURL,
		ReturnURL:          cfg.AlipayReturnURL,
		Subject:            cfg.AlipayOrderSubject,
	})
	if err != nil {
		log.Printf("alipay init error: %v", err)
	}
	if alipayClient != nil {
		srv.Payments = alipayClient
	}
	srv.paymentsEnabled.Store(cfg.PaymentsEnabled)
	srv.loadPaymentsSwitch()
	return srv
}

// Start runs the background loops until ctx is cancelled. Both are no-ops
// without Redis.
func (s *Server) Start(ctx context.Context) {
	go s.runStatsFlusher(ctx)
	go s.runFeedRelay(ctx)
}

func (s *Server) SignAdminToken(ctx context.Context) (string, error) {
	sessionID := newSessionID()
	if err := s.saveAdminSession(ctx, sessionID, adminSessionTTL); err != nil {
		return "", err
	}
	return auth.GenerateAdminToken(s.JWTSecret, sessionID, adminSessionTTL)
}

func (s *Server) saveAdminSession(ctx context.Context, sessionID string, ttl time.Duration) error {
	if s.Redis == nil {
		return nil
	}
	return s.Redis.Set(ctx, adminSessionKey(sessionID), "1", ttl).Err()
}

func (s *Server) validateAdminSession(ctx context.Context, sessionID string) error {
	if s.Redis == nil {
		return nil
	}
	_, err := s.Redis.Get(ctx, adminSessionKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return errInvalidSession
		}
		return err
	}
	return nil
}
