package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"gachalab/internal/auth"
	"gachalab/internal/config"
	"gachalab/internal/gacha"
	"gachalab/internal/models"
	"gachalab/internal/payments"
	"gachalab/internal/store/memstore"
)

const testJWTSecret = "supabase-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() config.Config {
	return config.Config{
		AllowedOrigins:    []string{"https://gacha.example", "http://localhost:5173"},
		SupabaseJWTSecret: testJWTSecret,
		AuthMode:          "jwt",
		GuestCookieName:   "guest_token",
		GuestCookieMaxAge: 365 * 24 * time.Hour,
		LastSpinTTL:       48 * time.Hour,
		RedeemTTL:         30 * 24 * time.Hour,
		AdminToken:        "admin-secret",
		JWTSecret:         "admin-jwt",
		AdminPassword:     "hunter2",
		CreditPacks:       []models.CreditPack{{ID: "p5", Credits: 5, AmountFen: 600}},
		PaymentsEnabled:   true,
		OrderExpire:       30 * time.Minute,
	}
}

type testEnv struct {
	srv     *Server
	st      *memstore.Store
	handler http.Handler
}

func newTestEnv(t *testing.T, winRate float64, draws ...float64) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, testConfig(), winRate, draws...)
}

func newTestEnvWithConfig(t *testing.T, cfg config.Config, winRate float64, draws ...float64) *testEnv {
	t.Helper()
	if len(draws) == 0 {
		draws = []float64{0}
	}
	st := memstore.New()
	st.PutGacha(models.Gacha{ID: "g1", Name: "Launch", WinRate: &winRate, IsActive: true})
	srv := NewServer(cfg, st, nil)
	srv.Engine = gacha.NewEngine(st, gacha.Options{Rand: gacha.NewFixedSource(draws...)})
	return &testEnv{srv: srv, st: st, handler: srv.Routes()}
}

func userToken(t *testing.T, uid string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SupabaseClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func (e *testEnv) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestSpinGuestWinEndToEnd(t *testing.T) {
	env := newTestEnv(t, 1)
	prize := env.st.PutPrize(models.Prize{GachaID: "g1", Name: "Plush", Stock: 1, Weight: 1, IsActive: true})

	w := env.do(http.MethodPost, "/api/spin", `{"gacha_id":"g1"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["status"] != "SPUN" || body["result"] != "WIN" {
		t.Fatalf("unexpected body %v", body)
	}
	redeem, ok := body["redeem"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected redeem object, got %v", body["redeem"])
	}
	if p, _ := redeem["prize"].(map[string]interface{}); p["id"] != prize.ID {
		t.Errorf("expected prize %s, got %v", prize.ID, redeem["prize"])
	}
	token, _ := body["guest_token"].(string)
	if len(token) != 32 {
		t.Errorf("expected 32-char guest token, got %q", token)
	}
	cookie := w.Header().Get("Set-Cookie")
	if !strings.Contains(cookie, "guest_token="+token) || !strings.Contains(cookie, "HttpOnly") || !strings.Contains(cookie, "Secure") {
		t.Errorf("unexpected cookie %q", cookie)
	}

	prizes, _ := env.st.ListPrizes(context.Background(), "g1")
	if prizes[0].Stock != 0 {
		t.Errorf("expected stock 0, got %d", prizes[0].Stock)
	}
	if len(env.st.Redeems()) != 1 || len(env.st.Spins()) != 1 {
		t.Errorf("expected one redeem and one outcome row, got %d and %d", len(env.st.Redeems()), len(env.st.Spins()))
	}
}

func TestSpinGuestSecondAttemptNeedsLogin(t *testing.T) {
	env := newTestEnv(t, 0)
	headers := map[string]string{"X-Guest-Token": "guest-abc"}
	first := decode(t, env.do(http.MethodPost, "/api/spin", `{"gacha_id":"g1"}`, headers))
	if first["status"] != "SPUN" || first["result"] != "LOSE" || first["redeem"] != nil {
		t.Fatalf("unexpected first spin %v", first)
	}
	w := env.do(http.MethodPost, "/api/spin", `{"gacha_id":"g1"}`, headers)
	if w.Code != http.StatusOK || decode(t, w)["status"] != "NEED_LOGIN_FREE" {
		t.Fatalf("expected NEED_LOGIN_FREE, got %d %s", w.Code, w.Body.String())
	}
}

func TestSpinInputErrors(t *testing.T) {
	env := newTestEnv(t, 0)
	cases := []struct {
		body string
		want string
	}{
		{"", "EMPTY_BODY"},
		{"{", "INVALID_JSON"},
		{"{}", "MISSING_GACHA_ID"},
		{`{"gacha_id":""}`, "MISSING_GACHA_ID"},
	}
	for _, tc := range cases {
		w := env.do(http.MethodPost, "/api/spin", tc.body, nil)
		if w.Code != http.StatusBadRequest || decode(t, w)["error"] != tc.want {
			t.Errorf("body %q: expected 400 %s, got %d %s", tc.body, tc.want, w.Code, w.Body.String())
		}
	}

	w := env.do(http.MethodPost, "/api/spin?gacha_id=g1", "", nil)
	if w.Code != http.StatusOK || decode(t, w)["status"] != "SPUN" {
		t.Errorf("query param should be accepted, got %d %s", w.Code, w.Body.String())
	}

	env.srv.Cfg.DefaultGachaID = "g1"
	w = env.do(http.MethodPost, "/api/spin", "", map[string]string{"X-Guest-Token": "other"})
	if w.Code != http.StatusOK || decode(t, w)["status"] != "SPUN" {
		t.Errorf("default gacha should be used, got %d %s", w.Code, w.Body.String())
	}
}

func TestSpinGachaStates(t *testing.T) {
	env := newTestEnv(t, 0)
	w := env.do(http.MethodPost, "/api/spin", `{"gacha_id":"nope"}`, nil)
	body := decode(t, w)
	if w.Code != http.StatusNotFound || body["status"] != "ERROR" || body["code"] != "GACHA_NOT_FOUND" {
		t.Errorf("expected 404 GACHA_NOT_FOUND, got %d %v", w.Code, body)
	}
	env.st.PutGacha(models.Gacha{ID: "off", IsActive: false})
	w = env.do(http.MethodPost, "/api/spin", `{"gacha_id":"off"}`, nil)
	body = decode(t, w)
	if w.Code != http.StatusOK || body["code"] != "GACHA_INACTIVE" {
		t.Errorf("expected 200 GACHA_INACTIVE, got %d %v", w.Code, body)
	}
}

func TestSpinBadBearer(t *testing.T) {
	env := newTestEnv(t, 0)
	w := env.do(http.MethodPost, "/api/spin", `{"gacha_id":"g1"}`, map[string]string{"Authorization": "Bearer junk"})
	if w.Code != http.StatusUnauthorized || decode(t, w)["error"] != "UNAUTHORIZED" {
		t.Fatalf("expected 401, got %d %s", w.Code, w.Body.String())
	}
	if len(env.st.Spins()) != 0 {
		t.Errorf("a rejected bearer must not spin")
	}
}

func TestSpinUserBonusThenPaywall(t *testing.T) {
	env := newTestEnv(t, 0)
	headers := map[string]string{"Authorization": "Bearer " + userToken(t, "user-1")}
	first := decode(t, env.do(http.MethodPost, "/api/spin", `{"gacha_id":"g1"}`, headers))
	if first["status"] != "SPUN" {
		t.Fatalf("expected login bonus spin, got %v", first)
	}
	second := decode(t, env.do(http.MethodPost, "/api/spin", `{"gacha_id":"g1"}`, headers))
	if second["status"] != "PAYWALL" {
		t.Fatalf("expected PAYWALL, got %v", second)
	}
	env.st.SetCredits("user-1", 1)
	third := decode(t, env.do(http.MethodPost, "/api/spin", `{"gacha_id":"g1"}`, headers))
	if third["status"] != "SPUN" {
		t.Fatalf("expected credit spin, got %v", third)
	}
	credits := decode(t, env.do(http.MethodGet, "/api/credits", "", headers))
	if credits["balance"] != float64(0) {
		t.Errorf("expected balance 0, got %v", credits["balance"])
	}
}

func TestRoutingAndCORS(t *testing.T) {
	env := newTestEnv(t, 0)

	w := env.do(http.MethodGet, "/api/spin", "", nil)
	if w.Code != http.StatusMethodNotAllowed || decode(t, w)["error"] != "METHOD_NOT_ALLOWED" {
		t.Errorf("expected 405, got %d %s", w.Code, w.Body.String())
	}
	w = env.do(http.MethodGet, "/api/nothing", "", nil)
	if w.Code != http.StatusNotFound || decode(t, w)["error"] != "NOT_FOUND" {
		t.Errorf("expected 404, got %d %s", w.Code, w.Body.String())
	}

	w = env.do(http.MethodOptions, "/api/spin", "", map[string]string{"Origin": "http://localhost:5173"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("listed origin should be echoed, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("expected credentials header, got %q", got)
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), "X-Guest-Token") {
		t.Errorf("guest header must be allowed")
	}

	w = env.do(http.MethodGet, "/api/config", "", map[string]string{"Origin": "https://evil.example"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://gacha.example" {
		t.Errorf("unknown origin should get the first allowed origin, got %q", got)
	}
}

func TestClaimGuestAndMe(t *testing.T) {
	env := newTestEnv(t, 1)
	env.st.PutPrize(models.Prize{GachaID: "g1", Name: "Pin", Stock: 5, Weight: 1, IsActive: true})
	guest := map[string]string{"X-Guest-Token": "guest-claim"}
	if body := decode(t, env.do(http.MethodPost, "/api/spin", `{"gacha_id":"g1"}`, guest)); body["result"] != "WIN" {
		t.Fatalf("expected guest win, got %v", body)
	}

	user := map[string]string{
		"Authorization": "Bearer " + userToken(t, "user-9"),
		"X-Guest-Token": "guest-claim",
	}
	first := decode(t, env.do(http.MethodPost, "/api/claim-guest", "", user))
	if first["claimed"] != float64(1) || first["guest_token"] != "guest-claim" {
		t.Fatalf("unexpected claim %v", first)
	}
	second := decode(t, env.do(http.MethodPost, "/api/claim-guest", "", user))
	if second["claimed"] != float64(0) {
		t.Errorf("second claim should move nothing, got %v", second)
	}

	me := decode(t, env.do(http.MethodGet, "/api/me", "", user))
	items, _ := me["items"].([]interface{})
	if len(items) != 1 {
		t.Fatalf("expected one redeem, got %v", me)
	}
	item := items[0].(map[string]interface{})
	if code, _ := item["redeem_code"].(string); !strings.HasPrefix(code, "GL-") || item["status"] != models.RedeemIssued {
		t.Errorf("unexpected item %v", item)
	}

	noGuest := map[string]string{"Authorization": "Bearer " + userToken(t, "user-9")}
	if body := decode(t, env.do(http.MethodPost, "/api/claim-guest", "", noGuest)); body["claimed"] != float64(0) {
		t.Errorf("no guest token should claim 0, got %v", body)
	}
	if w := env.do(http.MethodGet, "/api/me", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("me without bearer should be 401, got %d", w.Code)
	}
}

func TestLastSpin(t *testing.T) {
	env := newTestEnv(t, 0)
	headers := map[string]string{"X-Guest-Token": "guest-last"}

	before := decode(t, env.do(http.MethodGet, "/api/last-spin", "", headers))
	if before["exists"] != false || before["status"] != "NO_STATE" {
		t.Fatalf("expected NO_STATE, got %v", before)
	}
	env.do(http.MethodPost, "/api/spin", `{"gacha_id":"g1"}`, headers)

	after := decode(t, env.do(http.MethodGet, "/api/last-spin", "", headers))
	if after["exists"] != true || after["result"] != "LOSE" || after["gacha_id"] != "g1" || after["redeem"] != nil {
		t.Fatalf("unexpected last spin %v", after)
	}
	other := decode(t, env.do(http.MethodGet, "/api/last-spin?gacha_id=g2", "", headers))
	if other["exists"] != false {
		t.Errorf("gacha filter should exclude g1, got %v", other)
	}
	anon := decode(t, env.do(http.MethodGet, "/api/last-spin", "", nil))
	if anon["exists"] != false {
		t.Errorf("no identity should have no state, got %v", anon)
	}
	bad := env.do(http.MethodGet, "/api/last-spin", "", map[string]string{"Authorization": "Bearer junk"})
	if bad.Code != http.StatusOK || decode(t, bad)["status"] != "NO_STATE" {
		t.Errorf("bad bearer should degrade, got %d %s", bad.Code, bad.Body.String())
	}
}

func TestLastSpinBadBearerFallsBackToGuest(t *testing.T) {
	env := newTestEnv(t, 0)
	guestOnly := map[string]string{"X-Guest-Token": "guest-expired"}
	env.do(http.MethodPost, "/api/spin", `{"gacha_id":"g1"}`, guestOnly)

	w := env.do(http.MethodGet, "/api/last-spin", "", map[string]string{
		"X-Guest-Token": "guest-expired",
		"Authorization": "Bearer expired-or-junk",
	})
	body := decode(t, w)
	if w.Code != http.StatusOK || body["exists"] != true || body["gacha_id"] != "g1" || body["result"] != "LOSE" {
		t.Fatalf("rejected bearer should still show the guest spin, got %d %v", w.Code, body)
	}

	w = env.do(http.MethodGet, "/api/last-spin", "", map[string]string{
		"X-Guest-Token": "guest-never-spun",
		"Authorization": "Bearer expired-or-junk",
	})
	if body := decode(t, w); body["exists"] != false || body["status"] != "NO_STATE" {
		t.Errorf("unknown guest behind a bad bearer has no state, got %v", body)
	}
}

func TestTrackAlwaysOK(t *testing.T) {
	env := newTestEnv(t, 0)
	for _, body := range []string{"", "{", `{"event_name":"paywall_view"}`} {
		w := env.do(http.MethodPost, "/api/track", body, nil)
		if w.Code != http.StatusOK || decode(t, w)["ok"] != true {
			t.Errorf("body %q: expected ok, got %d %s", body, w.Code, w.Body.String())
		}
	}
	if len(env.st.Events()) != 0 {
		t.Fatalf("incomplete events must not be stored")
	}
	env.do(http.MethodPost, "/api/track", `{"event_name":"paywall_view","reason":"PAYWALL","gacha_id":"g1"}`,
		map[string]string{"X-Guest-Token": "guest-track"})
	events := env.st.Events()
	if len(events) != 1 || models.Deref(events[0].GuestTokenHash) == "" || events[0].UserID != nil {
		t.Errorf("unexpected events %+v", events)
	}
}

func TestCatalog(t *testing.T) {
	env := newTestEnv(t, 0.25)
	env.st.PutPrize(models.Prize{GachaID: "g1", Name: "Pin", Stock: 3, Weight: 9, IsActive: true})
	env.st.PutPrize(models.Prize{GachaID: "g1", Name: "Gone", Stock: 0, Weight: 1, IsActive: true})

	gachas := decode(t, env.do(http.MethodGet, "/api/gachas", "", nil))
	items, _ := gachas["items"].([]interface{})
	if len(items) != 1 || items[0].(map[string]interface{})["win_rate"] != 0.25 {
		t.Errorf("unexpected gachas %v", gachas)
	}
	prizes := decode(t, env.do(http.MethodGet, "/api/gachas/g1/prizes", "", nil))
	pitems, _ := prizes["items"].([]interface{})
	if len(pitems) != 1 {
		t.Fatalf("only in-stock prizes should be listed, got %v", prizes)
	}
	if _, ok := pitems[0].(map[string]interface{})["weight"]; ok {
		t.Errorf("weights must not be public")
	}
	cfg := decode(t, env.do(http.MethodGet, "/api/config", "", nil))
	packs, _ := cfg["credit_packs"].([]interface{})
	if len(packs) != 1 || packs[0].(map[string]interface{})["amount"] != "6.00" {
		t.Errorf("unexpected config %v", cfg)
	}
}

func TestAdminGachaAndPrizes(t *testing.T) {
	env := newTestEnv(t, 0.1)
	prize := env.st.PutPrize(models.Prize{GachaID: "g1", Name: "Pin", Stock: 3, Weight: 1, IsActive: true})
	admin := map[string]string{"X-Admin-Token": "admin-secret"}

	if w := env.do(http.MethodGet, "/api/admin/gachas/g1", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}
	if w := env.do(http.MethodGet, "/api/admin/gachas/g1", "", map[string]string{"Authorization": "Bearer wrong"}); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 with a bad token, got %d", w.Code)
	}
	if w := env.do(http.MethodGet, "/api/admin/gachas/missing", "", admin); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := env.do(http.MethodPatch, "/api/admin/gachas/g1", `{}`, admin); w.Code != http.StatusBadRequest || decode(t, w)["error"] != "NO_FIELDS" {
		t.Errorf("expected NO_FIELDS, got %d %s", w.Code, w.Body.String())
	}
	w := env.do(http.MethodPatch, "/api/admin/gachas/g1", `{"win_rate":0.5,"is_active":false}`, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("patch gacha: %d %s", w.Code, w.Body.String())
	}
	g, _ := env.st.GetGacha(context.Background(), "g1")
	if g.WinRate == nil || *g.WinRate != 0.5 || g.IsActive {
		t.Errorf("gacha not updated: %+v", g)
	}

	w = env.do(http.MethodPatch, "/api/admin/prizes/"+prize.ID, `{"stock":7,"image_url":null}`, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("patch prize: %d %s", w.Code, w.Body.String())
	}
	if body := decode(t, w); body["stock"] != float64(7) {
		t.Errorf("unexpected prize %v", body)
	}
	if w := env.do(http.MethodPatch, "/api/admin/prizes/"+prize.ID, `{"stock":-1}`, admin); w.Code != http.StatusBadRequest {
		t.Errorf("negative stock should be rejected, got %d", w.Code)
	}
	if w := env.do(http.MethodPatch, "/api/admin/prizes/nope", `{"stock":1}`, admin); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown prize, got %d", w.Code)
	}
}

func TestAdminLoginToken(t *testing.T) {
	env := newTestEnv(t, 0)
	if w := env.do(http.MethodPost, "/api/admin/login", `{"password":"nope"}`, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	body := decode(t, env.do(http.MethodPost, "/api/admin/login", `{"password":"hunter2"}`, nil))
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("expected token, got %v", body)
	}
	w := env.do(http.MethodGet, "/api/admin/gachas/g1/stats", "", map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusOK || decode(t, w)["gacha_id"] != "g1" {
		t.Errorf("admin jwt should authorize, got %d %s", w.Code, w.Body.String())
	}
}

func TestAdminJWTNeedsPasswordAndRealSecret(t *testing.T) {
	cases := []struct {
		name     string
		password string
		secret   string
	}{
		{"no password with default secret", "", config.DefaultJWTSecret},
		{"no password with custom secret", "", "admin-jwt"},
		{"password with default secret", "hunter2", config.DefaultJWTSecret},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.AdminPassword = tc.password
			cfg.JWTSecret = tc.secret
			env := newTestEnvWithConfig(t, cfg, 0.5)

			forged, err := auth.GenerateAdminToken([]byte(tc.secret), "anything", time.Hour)
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			bearer := map[string]string{"Authorization": "Bearer " + forged}
			w := env.do(http.MethodPatch, "/api/admin/gachas/g1", `{"win_rate":1}`, bearer)
			if w.Code != http.StatusForbidden {
				t.Fatalf("expected 403 for admin jwt, got %d %s", w.Code, w.Body.String())
			}
			g, err := env.st.GetGacha(context.Background(), "g1")
			if err != nil || g.WinRate == nil || *g.WinRate != 0.5 {
				t.Errorf("win rate must be unchanged, got %+v err=%v", g, err)
			}
			if w := env.do(http.MethodPost, "/api/admin/login", `{"password":"hunter2"}`, nil); w.Code == http.StatusOK {
				t.Errorf("login must not issue tokens, got %s", w.Body.String())
			}
			static := map[string]string{"X-Admin-Token": "admin-secret"}
			if w := env.do(http.MethodGet, "/api/admin/gachas/g1", "", static); w.Code != http.StatusOK {
				t.Errorf("static admin token should still work, got %d", w.Code)
			}
		})
	}
}

type fakeGateway struct {
	mu     sync.Mutex
	trades map[string]string
}

func (f *fakeGateway) PagePay(ctx context.Context, req payments.CheckoutRequest) (string, error) {
	return "https://pay.example/cashier?out_trade_no=" + req.OutTradeNo, nil
}

func (f *fakeGateway) QueryTrade(ctx context.Context, outTradeNo string) (*payments.TradeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.trades[outTradeNo]
	if !ok {
		return &payments.TradeResult{OutTradeNo: outTradeNo, SubCode: "ACQ.TRADE_NOT_EXIST"}, errors.New("trade not exist")
	}
	return &payments.TradeResult{OutTradeNo: outTradeNo, TradeStatus: status}, nil
}

func (f *fakeGateway) set(outTradeNo, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades[outTradeNo] = status
}

func TestCheckoutDisabledWithoutGateway(t *testing.T) {
	env := newTestEnv(t, 0)
	headers := map[string]string{"Authorization": "Bearer " + userToken(t, "buyer")}
	w := env.do(http.MethodPost, "/api/credits/checkout", `{"pack_id":"p5"}`, headers)
	if w.Code != http.StatusServiceUnavailable || decode(t, w)["error"] != "PAYMENTS_DISABLED" {
		t.Fatalf("expected PAYMENTS_DISABLED, got %d %s", w.Code, w.Body.String())
	}
}

func TestCheckoutCreditsExactlyOnce(t *testing.T) {
	env := newTestEnv(t, 0)
	gw := &fakeGateway{trades: map[string]string{}}
	env.srv.Payments = gw
	headers := map[string]string{"Authorization": "Bearer " + userToken(t, "buyer")}
	admin := map[string]string{"X-Admin-Token": "admin-secret"}

	if w := env.do(http.MethodPost, "/api/credits/checkout", `{"pack_id":"p99"}`, headers); w.Code != http.StatusBadRequest {
		t.Errorf("expected UNKNOWN_PACK, got %d", w.Code)
	}
	w := env.do(http.MethodPost, "/api/credits/checkout", `{"pack_id":"p5"}`, headers)
	if w.Code != http.StatusOK {
		t.Fatalf("checkout: %d %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	orderID, _ := body["order_id"].(string)
	outTradeNo, _ := body["out_trade_no"].(string)
	if orderID == "" || !strings.Contains(body["pay_url"].(string), outTradeNo) || body["amount"] != "6.00" {
		t.Fatalf("unexpected checkout %v", body)
	}

	synced := decode(t, env.do(http.MethodPost, "/api/admin/orders/"+orderID+"/sync", "", admin))
	if synced["status"] != string(models.OrderPending) {
		t.Fatalf("unpaid order should stay pending, got %v", synced)
	}

	gw.set(outTradeNo, payments.TradeSuccess)
	for i := 0; i < 2; i++ {
		synced = decode(t, env.do(http.MethodPost, "/api/admin/orders/"+orderID+"/sync", "", admin))
		if synced["status"] != string(models.OrderPaid) {
			t.Fatalf("sync %d: expected PAID, got %v", i, synced)
		}
	}
	balance, _ := env.st.GetCreditBalance(context.Background(), "buyer")
	if balance != 5 {
		t.Errorf("expected 5 credits granted once, got %d", balance)
	}

	list := decode(t, env.do(http.MethodGet, "/api/admin/orders?status=paid", "", admin))
	if items, _ := list["items"].([]interface{}); len(items) != 1 {
		t.Errorf("expected one paid order, got %v", list)
	}
}

func TestOrderWorkerSettlesBatch(t *testing.T) {
	env := newTestEnv(t, 0)
	gw := &fakeGateway{trades: map[string]string{}}
	env.srv.Payments = gw
	ctx := context.Background()
	now := time.Now().UTC()

	mk := func(otn string, created time.Time) {
		_, err := env.st.CreateCreditOrder(ctx, models.CreditOrder{
			ID: otn, OutTradeNo: otn, UserID: "u-" + otn, PackID: "p5", Credits: 5, AmountFen: 600,
			Status: models.OrderPending, CreatedAt: created,
		})
		if err != nil {
			t.Fatalf("create order: %v", err)
		}
	}
	mk("paid", now)
	mk("closed", now)
	mk("stale", now.Add(-2*time.Hour))
	mk("waiting", now)
	gw.set("paid", payments.TradeSuccess)
	gw.set("closed", payments.TradeClosed)
	gw.set("waiting", payments.TradeWaitBuyerPay)

	settled, err := NewOrderWorker(env.srv).processOnce(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if settled != 3 {
		t.Errorf("expected 3 settled orders, got %d", settled)
	}
	want := map[string]models.OrderStatus{
		"paid":    models.OrderPaid,
		"closed":  models.OrderClosed,
		"stale":   models.OrderClosed,
		"waiting": models.OrderPending,
	}
	for id, status := range want {
		o, _ := env.st.GetCreditOrder(ctx, id)
		if o.Status != status {
			t.Errorf("order %s: expected %s, got %s", id, status, o.Status)
		}
	}
	if b, _ := env.st.GetCreditBalance(ctx, "u-paid"); b != 5 {
		t.Errorf("paid order should grant credits, got %d", b)
	}
	if b, _ := env.st.GetCreditBalance(ctx, "u-closed"); b != 0 {
		t.Errorf("closed order must not grant credits, got %d", b)
	}
}

func TestPaymentsSwitch(t *testing.T) {
	env := newTestEnv(t, 0)
	env.srv.Payments = &fakeGateway{trades: map[string]string{}}
	admin := map[string]string{"X-Admin-Token": "admin-secret"}

	w := env.do(http.MethodPost, "/api/admin/payments_switch", `{"enabled":false}`, admin)
	if w.Code != http.StatusOK || decode(t, w)["enabled"] != false {
		t.Fatalf("switch off: %d %s", w.Code, w.Body.String())
	}
	headers := map[string]string{"Authorization": "Bearer " + userToken(t, "buyer")}
	if w := env.do(http.MethodPost, "/api/credits/checkout", `{"pack_id":"p5"}`, headers); w.Code != http.StatusServiceUnavailable {
		t.Errorf("checkout should be disabled, got %d", w.Code)
	}
	if w := env.do(http.MethodPost, "/api/admin/payments_switch", `{}`, admin); w.Code != http.StatusBadRequest {
		t.Errorf("missing flag should be rejected, got %d", w.Code)
	}
	w = env.do(http.MethodPost, "/api/admin/payments_switch", `{"enabled":true}`, admin)
	if body := decode(t, w); w.Code != http.StatusOK || body["enabled"] != true || body["available"] != true {
		t.Errorf("switch on with gateway: %d %v", w.Code, body)
	}
}

func TestPaymentsSwitchNeedsGateway(t *testing.T) {
	env := newTestEnv(t, 0)
	admin := map[string]string{"X-Admin-Token": "admin-secret"}

	state := decode(t, env.do(http.MethodGet, "/api/admin/payments_switch", "", admin))
	if state["enabled"] != true || state["configured"] != false || state["available"] != false {
		t.Fatalf("unexpected state without gateway %v", state)
	}
	if w := env.do(http.MethodPost, "/api/admin/payments_switch", `{"enabled":false}`, admin); w.Code != http.StatusOK {
		t.Fatalf("switching off is always allowed, got %d", w.Code)
	}
	w := env.do(http.MethodPost, "/api/admin/payments_switch", `{"enabled":true}`, admin)
	if w.Code != http.StatusConflict || decode(t, w)["error"] != "PAYMENTS_NOT_CONFIGURED" {
		t.Fatalf("enabling without gateway should conflict, got %d %s", w.Code, w.Body.String())
	}
	if state := decode(t, env.do(http.MethodGet, "/api/admin/payments_switch", "", admin)); state["enabled"] != false {
		t.Errorf("refused enable must not change the switch, got %v", state)
	}
}

func TestCacheResetWithoutRedis(t *testing.T) {
	env := newTestEnv(t, 0)
	w := env.do(http.MethodPost, "/api/admin/cache/reset", "", map[string]string{"X-Admin-Token": "admin-secret"})
	if w.Code != http.StatusOK || decode(t, w)["status"] != "ok" {
		t.Errorf("expected ok, got %d %s", w.Code, w.Body.String())
	}
}
