// Package sqlstore implements the entitlement store on Postgres or MySQL.
// Queries are written with ? placeholders and rebound per driver.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"gachalab/internal/models"
	"gachalab/internal/store"
)

type Store struct {
	db     *sqlx.DB
	layout store.SpinLayout
}

var _ store.Store = (*Store)(nil)

func New(db *sqlx.DB, layout store.SpinLayout) *Store {
	return &Store{db: db, layout: layout}
}

func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

const (
	pgUniqueViolation = "23505"
	myDuplicateEntry  = 1062
)

func isDuplicate(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == myDuplicateEntry
	}
	return false
}

func wrapInsert(table string, err error) error {
	if isDuplicate(err) {
		return fmt.Errorf("insert %s: %w", table, store.ErrConflict)
	}
	return fmt.Errorf("insert %s: %w", table, err)
}

func (s *Store) affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const gachaColumns = `id, COALESCE(name, '') AS name, win_rate, is_active`

func (s *Store) GetGacha(ctx context.Context, id string) (*models.Gacha, error) {
	var g models.Gacha
	err := s.db.GetContext(ctx, &g, s.q(`SELECT `+gachaColumns+` FROM gachas WHERE id = ? LIMIT 1`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select gacha: %w", err)
	}
	return &g, nil
}

func (s *Store) ListGachas(ctx context.Context, activeOnly bool, limit int) ([]models.Gacha, error) {
	query := `SELECT ` + gachaColumns + ` FROM gachas`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var rows []models.Gacha
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("select gachas: %w", err)
	}
	return rows, nil
}

func (s *Store) UpdateGacha(ctx context.Context, id string, patch store.GachaPatch) (*models.Gacha, error) {
	sets := []string{}
	args := []any{}
	if patch.WinRate != nil {
		sets = append(sets, "win_rate = ?")
		args = append(args, *patch.WinRate)
	}
	if patch.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *patch.IsActive)
	}
	if len(sets) > 0 {
		args = append(args, id)
		query := `UPDATE gachas SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
		if _, err := s.db.ExecContext(ctx, s.q(query), args...); err != nil {
			return nil, fmt.Errorf("update gacha: %w", err)
		}
	}
	return s.GetGacha(ctx, id)
}

const prizeColumns = `id, gacha_id, name, image_url, stock, COALESCE(weight, 1) AS weight, is_active`

func (s *Store) ListPrizes(ctx context.Context, gachaID string) ([]models.Prize, error) {
	var rows []models.Prize
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT `+prizeColumns+` FROM prizes WHERE gacha_id = ? ORDER BY created_at DESC`), gachaID)
	if err != nil {
		return nil, fmt.Errorf("select prizes: %w", err)
	}
	return rows, nil
}

func (s *Store) ListAvailablePrizes(ctx context.Context, gachaID string) ([]models.Prize, error) {
	var rows []models.Prize
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT `+prizeColumns+` FROM prizes
		WHERE gacha_id = ? AND is_active = TRUE AND stock > 0`), gachaID)
	if err != nil {
		return nil, fmt.Errorf("select available prizes: %w", err)
	}
	return rows, nil
}

func (s *Store) getPrize(ctx context.Context, id string) (*models.Prize, error) {
	var p models.Prize
	err := s.db.GetContext(ctx, &p, s.q(`SELECT `+prizeColumns+` FROM prizes WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select prize: %w", err)
	}
	return &p, nil
}

func (s *Store) UpdatePrize(ctx context.Context, id string, patch store.PrizePatch) (*models.Prize, error) {
	sets := []string{}
	args := []any{}
	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.Stock != nil {
		sets = append(sets, "stock = ?")
		args = append(args, *patch.Stock)
	}
	if patch.Weight != nil {
		sets = append(sets, "weight = ?")
		args = append(args, *patch.Weight)
	}
	if patch.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *patch.IsActive)
	}
	if patch.ImageURL != nil {
		sets = append(sets, "image_url = ?")
		args = append(args, *patch.ImageURL)
	}
	if len(sets) > 0 {
		args = append(args, id)
		query := `UPDATE prizes SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
		if _, err := s.db.ExecContext(ctx, s.q(query), args...); err != nil {
			return nil, fmt.Errorf("update prize: %w", err)
		}
	}
	return s.getPrize(ctx, id)
}

func (s *Store) DecrementPrizeStock(ctx context.Context, prize models.Prize) (bool, error) {
	ok, err := s.affected(s.db.ExecContext(ctx, s.q(`UPDATE prizes SET stock = stock - 1 WHERE id = ? AND stock > 0`), prize.ID))
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}
	return ok, nil
}

func (s *Store) HasGuestFreeSpin(ctx context.Context, gachaID, guestHash string) (bool, error) {
	var one int
	err := s.db.GetContext(ctx, &one, s.q(`SELECT 1 FROM guest_free_spins WHERE gacha_id = ? AND guest_token_hash = ? LIMIT 1`), gachaID, guestHash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select guest_free_spins: %w", err)
	}
	return true, nil
}

func (s *Store) MarkGuestFreeSpin(ctx context.Context, gachaID, guestHash string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO guest_free_spins (gacha_id, guest_token_hash, used_at) VALUES (?, ?, ?)`),
		gachaID, guestHash, at.UTC())
	if err != nil {
		return wrapInsert("guest_free_spins", err)
	}
	return nil
}

func (s *Store) GetUserBonus(ctx context.Context, gachaID, userID string) (*models.UserBonus, error) {
	var b models.UserBonus
	err := s.db.GetContext(ctx, &b, s.q(`SELECT gacha_id, user_id, login_free_used, login_free_used_at
		FROM user_bonus WHERE gacha_id = ? AND user_id = ? LIMIT 1`), gachaID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select user_bonus: %w", err)
	}
	return &b, nil
}

func (s *Store) CreateUserBonus(ctx context.Context, gachaID, userID string) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO user_bonus (gacha_id, user_id, login_free_used) VALUES (?, ?, FALSE)`), gachaID, userID)
	if err != nil {
		return wrapInsert("user_bonus", err)
	}
	return nil
}

func (s *Store) MarkLoginFreeUsed(ctx context.Context, gachaID, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE user_bonus SET login_free_used = TRUE, login_free_used_at = ?
		WHERE gacha_id = ? AND user_id = ?`), at.UTC(), gachaID, userID)
	if err != nil {
		return fmt.Errorf("update user_bonus: %w", err)
	}
	return nil
}

func (s *Store) GetCreditBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.db.GetContext(ctx, &balance, s.q(`SELECT balance FROM credits WHERE user_id = ? LIMIT 1`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("select credits: %w", err)
	}
	return balance, nil
}

func (s *Store) SwapCreditBalance(ctx context.Context, userID string, prev, next int64, at time.Time) (bool, error) {
	ok, err := s.affected(s.db.ExecContext(ctx, s.q(`UPDATE credits SET balance = ?, updated_at = ? WHERE user_id = ? AND balance = ?`),
		next, at.UTC(), userID, prev))
	if err != nil {
		return false, fmt.Errorf("update credits: %w", err)
	}
	return ok, nil
}

func (s *Store) AddCredits(ctx context.Context, userID string, delta int64, at time.Time) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE credits SET balance = balance + ?, updated_at = ? WHERE user_id = ?`), delta, at.UTC(), userID)
	if err != nil {
		return 0, fmt.Errorf("update credits: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO credits (user_id, balance, updated_at) VALUES (?, ?, ?)`), userID, delta, at.UTC()); err != nil {
			return 0, wrapInsert("credits", err)
		}
	}
	var balance int64
	if err := tx.GetContext(ctx, &balance, tx.Rebind(`SELECT balance FROM credits WHERE user_id = ?`), userID); err != nil {
		return 0, fmt.Errorf("select credits: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

const redeemColumns = `id, gacha_id, user_id, guest_token_hash, prize_id, redeem_code, status, issued_at, expires_at`

func (s *Store) CreateRedeem(ctx context.Context, r models.Redeem) (*models.Redeem, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO redeems (`+redeemColumns+`)
		VALUES (:id, :gacha_id, :user_id, :guest_token_hash, :prize_id, :redeem_code, :status, :issued_at, :expires_at)`, r)
	if err != nil {
		return nil, wrapInsert("redeems", err)
	}
	return &r, nil
}

func (s *Store) ListUserRedeems(ctx context.Context, userID string, limit int) ([]models.Redeem, error) {
	var rows []models.Redeem
	query := `SELECT ` + redeemColumns + ` FROM redeems WHERE user_id = ? ORDER BY issued_at DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("select redeems: %w", err)
	}
	return rows, nil
}

func (s *Store) ClaimGuestRedeems(ctx context.Context, guestHash, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE redeems SET user_id = ? WHERE guest_token_hash = ? AND user_id IS NULL`), userID, guestHash)
	if err != nil {
		return 0, fmt.Errorf("claim redeems: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Store) InsertSpin(ctx context.Context, rec models.SpinRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := s.layout.Row(rec)
	row["created_at"] = rec.CreatedAt.UTC()
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	args := make([]any, 0, len(cols))
	for _, col := range cols {
		val := row[col]
		if raw, ok := val.(json.RawMessage); ok {
			val = string(raw)
		}
		args = append(args, val)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := `INSERT INTO ` + s.layout.Table() + ` (` + strings.Join(cols, ", ") + `) VALUES (` + placeholders + `)`
	if _, err := s.db.ExecContext(ctx, s.q(query), args...); err != nil {
		return wrapInsert(s.layout.Table(), err)
	}
	return nil
}

func (s *Store) LastSpin(ctx context.Context, lq store.LastSpinQuery) (*models.SpinRecord, error) {
	where := []string{}
	args := []any{}
	if lq.Identity.IsGuest() {
		where = append(where, "guest_token_hash = ?")
		args = append(args, lq.Identity.GuestTokenHash)
	} else {
		where = append(where, "user_id = ?")
		args = append(args, lq.Identity.UserID)
	}
	if lq.GachaID != "" {
		where = append(where, "gacha_id = ?")
		args = append(args, lq.GachaID)
	}
	if !lq.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, lq.Since.UTC())
	}
	query := `SELECT ` + strings.Join(s.layout.SelectColumns(), ", ") + ` FROM ` + s.layout.Table() +
		` WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at DESC LIMIT 1`
	var row store.SpinRow
	err := s.db.GetContext(ctx, &row, s.q(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select last spin: %w", err)
	}
	rec := row.Record()
	return &rec, nil
}

func (s *Store) InsertEvent(ctx context.Context, ev models.TrackEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO events (id, event_name, reason, gacha_id, user_id, guest_token_hash, created_at)
		VALUES (:id, :event_name, :reason, :gacha_id, :user_id, :guest_token_hash, :created_at)`, ev)
	if err != nil {
		return wrapInsert("events", err)
	}
	return nil
}

const orderColumns = `id, out_trade_no, user_id, pack_id, credits, amount_fen, status, created_at, paid_at`

func (s *Store) CreateCreditOrder(ctx context.Context, o models.CreditOrder) (*models.CreditOrder, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO credit_orders (`+orderColumns+`)
		VALUES (:id, :out_trade_no, :user_id, :pack_id, :credits, :amount_fen, :status, :created_at, :paid_at)`, o)
	if err != nil {
		return nil, wrapInsert("credit_orders", err)
	}
	return &o, nil
}

func (s *Store) GetCreditOrder(ctx context.Context, id string) (*models.CreditOrder, error) {
	var o models.CreditOrder
	err := s.db.GetContext(ctx, &o, s.q(`SELECT `+orderColumns+` FROM credit_orders WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select credit order: %w", err)
	}
	return &o, nil
}

func (s *Store) ListCreditOrders(ctx context.Context, status models.OrderStatus, limit int) ([]models.CreditOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM credit_orders`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var rows []models.CreditOrder
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("select credit orders: %w", err)
	}
	return rows, nil
}

func (s *Store) TransitionCreditOrder(ctx context.Context, id string, to models.OrderStatus, at time.Time) (bool, error) {
	var paidAt *time.Time
	if to == models.OrderPaid {
		t := at.UTC()
		paidAt = &t
	}
	ok, err := s.affected(s.db.ExecContext(ctx, s.q(`UPDATE credit_orders SET status = ?, paid_at = COALESCE(?, paid_at)
		WHERE id = ? AND status = ?`), to, paidAt, id, models.OrderPending))
	if err != nil {
		return false, fmt.Errorf("update credit order: %w", err)
	}
	return ok, nil
}
