package models

import "time"

type Result string

const (
	ResultWin  Result = "WIN"
	ResultLose Result = "LOSE"
)

const DefaultWinRate = 0.1

type Gacha struct {
	ID       string   `json:"id" db:"id"`
	Name     string   `json:"name,omitempty" db:"name"`
	WinRate  *float64 `json:"win_rate" db:"win_rate"`
	IsActive bool     `json:"is_active" db:"is_active"`
}

// EffectiveWinRate falls back to DefaultWinRate when the column is null and
// clamps everything else into [0,1]. NaN counts as 0.
func (g Gacha) EffectiveWinRate() float64 {
	if g.WinRate == nil {
		return DefaultWinRate
	}
	return ClampRate(*g.WinRate)
}

func ClampRate(rate float64) float64 {
	if rate != rate || rate < 0 {
		return 0
	}
	if rate > 1 {
		return 1
	}
	return rate
}

type Prize struct {
	ID       string  `json:"id" db:"id"`
	GachaID  string  `json:"gacha_id" db:"gacha_id"`
	Name     string  `json:"name" db:"name"`
	ImageURL *string `json:"image_url" db:"image_url"`
	Stock    int     `json:"stock" db:"stock"`
	Weight   float64 `json:"weight" db:"weight"`
	IsActive bool    `json:"is_active" db:"is_active"`
}

func (p Prize) Available() bool {
	return p.IsActive && p.Stock > 0
}

type GuestFreeSpin struct {
	GachaID        string    `json:"gacha_id" db:"gacha_id"`
	GuestTokenHash string    `json:"guest_token_hash" db:"guest_token_hash"`
	UsedAt         time.Time `json:"used_at" db:"used_at"`
}

type UserBonus struct {
	GachaID         string     `json:"gacha_id" db:"gacha_id"`
	UserID          string     `json:"user_id" db:"user_id"`
	LoginFreeUsed   bool       `json:"login_free_used" db:"login_free_used"`
	LoginFreeUsedAt *time.Time `json:"login_free_used_at,omitempty" db:"login_free_used_at"`
}

type Credits struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Balance   int64     `json:"balance" db:"balance"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type SpinRecord struct {
	ID             string    `json:"id,omitempty" db:"id"`
	GachaID        string    `json:"gacha_id" db:"gacha_id"`
	UserID         *string   `json:"user_id" db:"user_id"`
	GuestTokenHash *string   `json:"guest_token_hash" db:"guest_token_hash"`
	Result         Result    `json:"result" db:"result"`
	RedeemCode     *string   `json:"redeem_code" db:"redeem_code"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

const RedeemIssued = "ISSUED"

type Redeem struct {
	ID             string    `json:"id" db:"id"`
	GachaID        string    `json:"gacha_id" db:"gacha_id"`
	UserID         *string   `json:"user_id" db:"user_id"`
	GuestTokenHash *string   `json:"guest_token_hash" db:"guest_token_hash"`
	PrizeID        string    `json:"prize_id" db:"prize_id"`
	RedeemCode     string    `json:"redeem_code" db:"redeem_code"`
	Status         string    `json:"status" db:"status"`
	IssuedAt       time.Time `json:"issued_at" db:"issued_at"`
	ExpiresAt      time.Time `json:"expires_at" db:"expires_at"`
}

type TrackEvent struct {
	ID             string    `json:"id" db:"id"`
	EventName      string    `json:"event_name" db:"event_name"`
	Reason         string    `json:"reason" db:"reason"`
	GachaID        string    `json:"gacha_id" db:"gacha_id"`
	UserID         *string   `json:"user_id" db:"user_id"`
	GuestTokenHash *string   `json:"guest_token_hash" db:"guest_token_hash"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

type OrderStatus string

const (
	OrderPending OrderStatus = "PENDING"
	OrderPaid    OrderStatus = "PAID"
	OrderClosed  OrderStatus = "CLOSED"
)

type CreditOrder struct {
	ID         string      `json:"id" db:"id"`
	OutTradeNo string      `json:"out_trade_no" db:"out_trade_no"`
	UserID     string      `json:"user_id" db:"user_id"`
	PackID     string      `json:"pack_id" db:"pack_id"`
	Credits    int64       `json:"credits" db:"credits"`
	AmountFen  int64       `json:"amount_fen" db:"amount_fen"`
	Status     OrderStatus `json:"status" db:"status"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	PaidAt     *time.Time  `json:"paid_at,omitempty" db:"paid_at"`
}

// CreditPack is a purchasable bundle of paid spins.
type CreditPack struct {
	ID        string `json:"id"`
	Credits   int64  `json:"credits"`
	AmountFen int64  `json:"amount_fen"`
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
