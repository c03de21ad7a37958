package store

import (
	"context"
	"errors"
	"time"

	"gachalab/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Store is the entitlement store. Conditional writes report whether the guard
// predicate still matched (false, nil) instead of failing.
type Store interface {
	GetGacha(ctx context.Context, id string) (*models.Gacha, error)
	ListGachas(ctx context.Context, activeOnly bool, limit int) ([]models.Gacha, error)
	UpdateGacha(ctx context.Context, id string, patch GachaPatch) (*models.Gacha, error)

	ListPrizes(ctx context.Context, gachaID string) ([]models.Prize, error)
	ListAvailablePrizes(ctx context.Context, gachaID string) ([]models.Prize, error)
	UpdatePrize(ctx context.Context, id string, patch PrizePatch) (*models.Prize, error)
	// DecrementPrizeStock writes stock-1 guarded by stock>0.
	DecrementPrizeStock(ctx context.Context, prize models.Prize) (bool, error)

	HasGuestFreeSpin(ctx context.Context, gachaID, guestHash string) (bool, error)
	MarkGuestFreeSpin(ctx context.Context, gachaID, guestHash string, at time.Time) error

	GetUserBonus(ctx context.Context, gachaID, userID string) (*models.UserBonus, error)
	CreateUserBonus(ctx context.Context, gachaID, userID string) error
	MarkLoginFreeUsed(ctx context.Context, gachaID, userID string, at time.Time) error

	// GetCreditBalance returns 0 when the user has no credits row.
	GetCreditBalance(ctx context.Context, userID string) (int64, error)
	// SwapCreditBalance sets balance to next only if it still equals prev.
	SwapCreditBalance(ctx context.Context, userID string, prev, next int64, at time.Time) (bool, error)
	AddCredits(ctx context.Context, userID string, delta int64, at time.Time) (int64, error)

	CreateRedeem(ctx context.Context, r models.Redeem) (*models.Redeem, error)
	ListUserRedeems(ctx context.Context, userID string, limit int) ([]models.Redeem, error)
	// ClaimGuestRedeems moves unowned guest redeems to userID and returns the count moved.
	ClaimGuestRedeems(ctx context.Context, guestHash, userID string) (int, error)

	InsertSpin(ctx context.Context, rec models.SpinRecord) error
	LastSpin(ctx context.Context, q LastSpinQuery) (*models.SpinRecord, error)

	InsertEvent(ctx context.Context, ev models.TrackEvent) error

	CreateCreditOrder(ctx context.Context, o models.CreditOrder) (*models.CreditOrder, error)
	GetCreditOrder(ctx context.Context, id string) (*models.CreditOrder, error)
	ListCreditOrders(ctx context.Context, status models.OrderStatus, limit int) ([]models.CreditOrder, error)
	// TransitionCreditOrder moves an order out of PENDING; false when it already left.
	TransitionCreditOrder(ctx context.Context, id string, to models.OrderStatus, at time.Time) (bool, error)
}

type GachaPatch struct {
	WinRate  *float64
	IsActive *bool
}

func (p GachaPatch) Empty() bool {
	return p.WinRate == nil && p.IsActive == nil
}

type PrizePatch struct {
	Name     *string
	Stock    *int
	Weight   *float64
	IsActive *bool
	ImageURL *string
}

func (p PrizePatch) Empty() bool {
	return p.Name == nil && p.Stock == nil && p.Weight == nil && p.IsActive == nil && p.ImageURL == nil
}

type LastSpinQuery struct {
	Identity models.Identity
	GachaID  string
	Since    time.Time
}
