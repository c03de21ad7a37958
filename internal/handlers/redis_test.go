package handlers

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"gachalab/internal/auth"
	"gachalab/internal/db"
	"gachalab/internal/identity"
	"gachalab/internal/models"
)

func newRedisTestEnv(t *testing.T) *testEnv {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rdb, err := db.NewRedis(ctx, addr, "", 15)
	if err != nil || rdb == nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	env := newTestEnv(t, 0)
	env.srv.Redis = rdb
	return env
}

func TestRedisSpinRateLimit(t *testing.T) {
	env := newRedisTestEnv(t)
	env.srv.Cfg.SpinRateLimit = 2
	token := uuid.NewString()
	headers := map[string]string{"X-Guest-Token": token}
	t.Cleanup(func() {
		id := models.Identity{GuestTokenHash: identity.HashToken(token)}
		minute := time.Now().Unix() / 60
		env.srv.Redis.Del(context.Background(), spinRateKey(id, minute), spinRateKey(id, minute-1), lastSpinKey(id))
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, env.do(http.MethodPost, "/api/spin", `{"gacha_id":"g1"}`, headers).Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("first two spins should pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("third spin should be rate limited, got %v", codes)
	}
}

func TestRedisLastSpinCache(t *testing.T) {
	env := newRedisTestEnv(t)
	token := uuid.NewString()
	id := models.Identity{GuestTokenHash: identity.HashToken(token)}
	t.Cleanup(func() { env.srv.Redis.Del(context.Background(), lastSpinKey(id)) })
	headers := map[string]string{"X-Guest-Token": token}

	env.do(http.MethodPost, "/api/spin", `{"gacha_id":"g1"}`, headers)
	ttl, err := env.srv.Redis.TTL(context.Background(), lastSpinKey(id)).Result()
	if err != nil || ttl <= 0 {
		t.Fatalf("expected cached last spin with ttl, got %v %v", ttl, err)
	}
	body := decode(t, env.do(http.MethodGet, "/api/last-spin?gacha_id=g1", "", headers))
	if body["exists"] != true || body["result"] != "LOSE" {
		t.Errorf("unexpected last spin %v", body)
	}
}

func TestRedisStatsFlush(t *testing.T) {
	env := newRedisTestEnv(t)
	gachaID := "stats-" + uuid.NewString()
	t.Cleanup(func() { env.srv.Redis.Del(context.Background(), gachaStatsKey(gachaID)) })

	env.srv.bumpSpinStat(gachaID, models.ResultWin)
	env.srv.bumpSpinStat(gachaID, models.ResultWin)
	env.srv.bumpSpinStat(gachaID, models.ResultLose)
	env.srv.flushSpinStats(context.Background())

	body := decode(t, env.do(http.MethodGet, "/api/admin/gachas/"+gachaID+"/stats", "", map[string]string{"X-Admin-Token": "admin-secret"}))
	if body["win"] != float64(2) || body["lose"] != float64(1) {
		t.Errorf("unexpected stats %v", body)
	}
}

func TestRedisAdminSessionRevocation(t *testing.T) {
	env := newRedisTestEnv(t)
	body := decode(t, env.do(http.MethodPost, "/api/admin/login", `{"password":"hunter2"}`, nil))
	token, _ := body["token"].(string)
	claims, err := auth.ParseAdminToken(env.srv.JWTSecret, token)
	if err != nil {
		t.Fatalf("parse admin token: %v", err)
	}
	headers := map[string]string{"Authorization": "Bearer " + token}
	if w := env.do(http.MethodGet, "/api/admin/gachas/g1", "", headers); w.Code != http.StatusOK {
		t.Fatalf("live session should pass, got %d", w.Code)
	}
	env.srv.Redis.Del(context.Background(), adminSessionKey(claims.SessionID))
	w := env.do(http.MethodGet, "/api/admin/gachas/g1", "", headers)
	if w.Code != http.StatusUnauthorized || decode(t, w)["error"] != "SESSION_INVALID" {
		t.Errorf("revoked session should be rejected, got %d %s", w.Code, w.Body.String())
	}
}
