// Package rest talks to a Supabase PostgREST endpoint. Conditional updates
// are PATCH requests whose filters carry the guard predicate; an empty
// representation means the predicate no longer held.
package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"gachalab/internal/models"
	"gachalab/internal/store"
)

const (
	preferRepresentation = "return=representation"
	preferMinimal        = "return=minimal"
	creditSwapAttempts   = 5
)

type Config struct {
	BaseURL        string
	ServiceRoleKey string
	Timeout        time.Duration
	SpinLayout     store.SpinLayout
}

type Store struct {
	client *resty.Client
	layout store.SpinLayout
}

var _ store.Store = (*Store)(nil)

// HTTPError is a non-2xx PostgREST reply.
type HTTPError struct {
	Method string
	Table  string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("postgrest %s %s: status %d: %s", e.Method, e.Table, e.Status, e.Body)
}

func New(cfg Config) (*Store, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" || strings.TrimSpace(cfg.ServiceRoleKey) == "" {
		return nil, errors.New("SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY are required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	client := resty.New().
		SetBaseURL(base+"/rest/v1").
		SetTimeout(timeout).
		SetHeader("apikey", cfg.ServiceRoleKey).
		SetAuthToken(cfg.ServiceRoleKey).
		SetHeader("Accept", "application/json")
	return &Store{client: client, layout: cfg.SpinLayout}, nil
}

func eq(val string) string {
	return "eq." + val
}

func (s *Store) do(ctx context.Context, method, table string, query url.Values, body any, prefer string, out any) error {
	req := s.client.R().SetContext(ctx)
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if prefer != "" {
		req.SetHeader("Prefer", prefer)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Execute(method, "/"+table)
	if err != nil {
		return fmt.Errorf("postgrest %s %s: %w", method, table, err)
	}
	if resp.IsError() {
		httpErr := &HTTPError{Method: method, Table: table, Status: resp.StatusCode(), Body: resp.String()}
		if resp.StatusCode() == http.StatusConflict {
			return fmt.Errorf("%w: %v", store.ErrConflict, httpErr)
		}
		return httpErr
	}
	return nil
}

func (s *Store) GetGacha(ctx context.Context, id string) (*models.Gacha, error) {
	var rows []models.Gacha
	q := url.Values{}
	q.Set("select", "id,name,win_rate,is_active")
	q.Set("id", eq(id))
	q.Set("limit", "1")
	if err := s.do(ctx, http.MethodGet, "gachas", q, nil, "", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	return &rows[0], nil
}

func (s *Store) ListGachas(ctx context.Context, activeOnly bool, limit int) ([]models.Gacha, error) {
	var rows []models.Gacha
	q := url.Values{}
	q.Set("select", "id,name,win_rate,is_active")
	if activeOnly {
		q.Set("is_active", "is.true")
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if err := s.do(ctx, http.MethodGet, "gachas", q, nil, "", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) UpdateGacha(ctx context.Context, id string, patch store.GachaPatch) (*models.Gacha, error) {
	body := map[string]any{}
	if patch.WinRate != nil {
		body["win_rate"] = *patch.WinRate
	}
	if patch.IsActive != nil {
		body["is_active"] = *patch.IsActive
	}
	var rows []models.Gacha
	q := url.Values{}
	q.Set("id", eq(id))
	if err := s.do(ctx, http.MethodPatch, "gachas", q, body, preferRepresentation, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	return &rows[0], nil
}

const prizeColumns = "id,gacha_id,name,image_url,stock,weight,is_active"

func (s *Store) ListPrizes(ctx context.Context, gachaID string) ([]models.Prize, error) {
	var rows []models.Prize
	q := url.Values{}
	q.Set("select", prizeColumns)
	q.Set("gacha_id", eq(gachaID))
	q.Set("order", "created_at.desc")
	if err := s.do(ctx, http.MethodGet, "prizes", q, nil, "", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) ListAvailablePrizes(ctx context.Context, gachaID string) ([]models.Prize, error) {
	var rows []models.Prize
	q := url.Values{}
	q.Set("select", prizeColumns)
	q.Set("gacha_id", eq(gachaID))
	q.Set("is_active", "is.true")
	q.Set("stock", "gt.0")
	if err := s.do(ctx, http.MethodGet, "prizes", q, nil, "", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) UpdatePrize(ctx context.Context, id string, patch store.PrizePatch) (*models.Prize, error) {
	body := map[string]any{}
	if patch.Name != nil {
		body["name"] = *patch.Name
	}
	if patch.Stock != nil {
		body["stock"] = *patch.Stock
	}
	if patch.Weight != nil {
		body["weight"] = *patch.Weight
	}
	if patch.IsActive != nil {
		body["is_active"] = *patch.IsActive
	}
	if patch.ImageURL != nil {
		body["image_url"] = models.StringPtr(*patch.ImageURL)
	}
	var rows []models.Prize
	q := url.Values{}
	q.Set("id", eq(id))
	if err := s.do(ctx, http.MethodPatch, "prizes", q, body, preferRepresentation, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	return &rows[0], nil
}

// DecrementPrizeStock writes observed-1 guarded on the observed stock, so a
// concurrent writer turns this into a lost race instead of a lost update.
func (s *Store) DecrementPrizeStock(ctx context.Context, prize models.Prize) (bool, error) {
	if prize.Stock <= 0 {
		return false, nil
	}
	var rows []models.Prize
	q := url.Values{}
	q.Set("id", eq(prize.ID))
	q.Set("stock", eq(strconv.Itoa(prize.Stock)))
	body := map[string]any{"stock": prize.Stock - 1}
	if err := s.do(ctx, http.MethodPatch, "prizes", q, body, preferRepresentation, &rows); err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (s *Store) HasGuestFreeSpin(ctx context.Context, gachaID, guestHash string) (bool, error) {
	var rows []models.GuestFreeSpin
	q := url.Values{}
	q.Set("select", "used_at")
	q.Set("gacha_id", eq(gachaID))
	q.Set("guest_token_hash", eq(guestHash))
	q.Set("limit", "1")
	if err := s.do(ctx, http.MethodGet, "guest_free_spins", q, nil, "", &rows); err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (s *Store) MarkGuestFreeSpin(ctx context.Context, gachaID, guestHash string, at time.Time) error {
	body := models.GuestFreeSpin{GachaID: gachaID, GuestTokenHash: guestHash, UsedAt: at.UTC()}
	return s.do(ctx, http.MethodPost, "guest_free_spins", nil, body, preferMinimal, nil)
}

func (s *Store) GetUserBonus(ctx context.Context, gachaID, userID string) (*models.UserBonus, error) {
	var rows []models.UserBonus
	q := url.Values{}
	q.Set("select", "gacha_id,user_id,login_free_used,login_free_used_at")
	q.Set("gacha_id", eq(gachaID))
	q.Set("user_id", eq(userID))
	q.Set("limit", "1")
	if err := s.do(ctx, http.MethodGet, "user_bonus", q, nil, "", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (s *Store) CreateUserBonus(ctx context.Context, gachaID, userID string) error {
	body := map[string]any{"gacha_id": gachaID, "user_id": userID, "login_free_used": false}
	return s.do(ctx, http.MethodPost, "user_bonus", nil, body, preferMinimal, nil)
}

func (s *Store) MarkLoginFreeUsed(ctx context.Context, gachaID, userID string, at time.Time) error {
	q := url.Values{}
	q.Set("gacha_id", eq(gachaID))
	q.Set("user_id", eq(userID))
	body := map[string]any{"login_free_used": true, "login_free_used_at": at.UTC()}
	return s.do(ctx, http.MethodPatch, "user_bonus", q, body, preferMinimal, nil)
}

func (s *Store) creditsRow(ctx context.Context, userID string) (*models.Credits, error) {
	var rows []models.Credits
	q := url.Values{}
	q.Set("select", "user_id,balance,updated_at")
	q.Set("user_id", eq(userID))
	q.Set("limit", "1")
	if err := s.do(ctx, http.MethodGet, "credits", q, nil, "", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (s *Store) GetCreditBalance(ctx context.Context, userID string) (int64, error) {
	row, err := s.creditsRow(ctx, userID)
	if err != nil || row == nil {
		return 0, err
	}
	return row.Balance, nil
}

func (s *Store) SwapCreditBalance(ctx context.Context, userID string, prev, next int64, at time.Time) (bool, error) {
	var rows []models.Credits
	q := url.Values{}
	q.Set("user_id", eq(userID))
	q.Set("balance", eq(strconv.FormatInt(prev, 10)))
	body := map[string]any{"balance": next, "updated_at": at.UTC()}
	if err := s.do(ctx, http.MethodPatch, "credits", q, body, preferRepresentation, &rows); err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (s *Store) AddCredits(ctx context.Context, userID string, delta int64, at time.Time) (int64, error) {
	for attempt := 0; attempt < creditSwapAttempts; attempt++ {
		row, err := s.creditsRow(ctx, userID)
		if err != nil {
			return 0, err
		}
		if row == nil {
			body := map[string]any{"user_id": userID, "balance": delta, "updated_at": at.UTC()}
			err := s.do(ctx, http.MethodPost, "credits", nil, body, preferMinimal, nil)
			if err == nil {
				return delta, nil
			}
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return 0, err
		}
		ok, err := s.SwapCreditBalance(ctx, userID, row.Balance, row.Balance+delta, at)
		if err != nil {
			return 0, err
		}
		if ok {
			return row.Balance + delta, nil
		}
	}
	return 0, store.ErrConflict
}

const redeemColumns = "id,gacha_id,user_id,guest_token_hash,prize_id,redeem_code,status,issued_at,expires_at"

func (s *Store) CreateRedeem(ctx context.Context, r models.Redeem) (*models.Redeem, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	var rows []models.Redeem
	if err := s.do(ctx, http.MethodPost, "redeems", nil, r, preferRepresentation, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &r, nil
	}
	return &rows[0], nil
}

func (s *Store) ListUserRedeems(ctx context.Context, userID string, limit int) ([]models.Redeem, error) {
	var rows []models.Redeem
	q := url.Values{}
	q.Set("select", redeemColumns)
	q.Set("user_id", eq(userID))
	q.Set("order", "issued_at.desc")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if err := s.do(ctx, http.MethodGet, "redeems", q, nil, "", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) ClaimGuestRedeems(ctx context.Context, guestHash, userID string) (int, error) {
	var rows []models.Redeem
	q := url.Values{}
	q.Set("guest_token_hash", eq(guestHash))
	q.Set("user_id", "is.null")
	body := map[string]any{"user_id": userID}
	if err := s.do(ctx, http.MethodPatch, "redeems", q, body, preferRepresentation, &rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *Store) InsertSpin(ctx context.Context, rec models.SpinRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return s.do(ctx, http.MethodPost, s.layout.Table(), nil, s.layout.Row(rec), preferMinimal, nil)
}

func (s *Store) LastSpin(ctx context.Context, lq store.LastSpinQuery) (*models.SpinRecord, error) {
	var rows []store.SpinRow
	q := url.Values{}
	q.Set("select", strings.Join(s.layout.SelectColumns(), ","))
	if lq.Identity.IsGuest() {
		q.Set("guest_token_hash", eq(lq.Identity.GuestTokenHash))
	} else {
		q.Set("user_id", eq(lq.Identity.UserID))
	}
	if lq.GachaID != "" {
		q.Set("gacha_id", eq(lq.GachaID))
	}
	if !lq.Since.IsZero() {
		q.Set("created_at", "gte."+lq.Since.UTC().Format(time.RFC3339Nano))
	}
	q.Set("order", "created_at.desc")
	q.Set("limit", "1")
	if err := s.do(ctx, http.MethodGet, s.layout.Table(), q, nil, "", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	rec := rows[0].Record()
	return &rec, nil
}

func (s *Store) InsertEvent(ctx context.Context, ev models.TrackEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	return s.do(ctx, http.MethodPost, "events", nil, ev, preferMinimal, nil)
}

const orderColumns = "id,out_trade_no,user_id,pack_id,credits,amount_fen,status,created_at,paid_at"

func (s *Store) CreateCreditOrder(ctx context.Context, o models.CreditOrder) (*models.CreditOrder, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	var rows []models.CreditOrder
	if err := s.do(ctx, http.MethodPost, "credit_orders", nil, o, preferRepresentation, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &o, nil
	}
	return &rows[0], nil
}

func (s *Store) GetCreditOrder(ctx context.Context, id string) (*models.CreditOrder, error) {
	var rows []models.CreditOrder
	q := url.Values{}
	q.Set("select", orderColumns)
	q.Set("id", eq(id))
	q.Set("limit", "1")
	if err := s.do(ctx, http.MethodGet, "credit_orders", q, nil, "", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	return &rows[0], nil
}

func (s *Store) ListCreditOrders(ctx context.Context, status models.OrderStatus, limit int) ([]models.CreditOrder, error) {
	var rows []models.CreditOrder
	q := url.Values{}
	q.Set("select", orderColumns)
	if status != "" {
		q.Set("status", eq(string(status)))
	}
	q.Set("order", "created_at.asc")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if err := s.do(ctx, http.MethodGet, "credit_orders", q, nil, "", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) TransitionCreditOrder(ctx context.Context, id string, to models.OrderStatus, at time.Time) (bool, error) {
	var rows []models.CreditOrder
	q := url.Values{}
	q.Set("id", eq(id))
	q.Set("status", eq(string(models.OrderPending)))
	body := map[string]any{"status": to}
	if to == models.OrderPaid {
		body["paid_at"] = at.UTC()
	}
	if err := s.do(ctx, http.MethodPatch, "credit_orders", q, body, preferRepresentation, &rows); err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}
