// Package gacha resolves spins: entitlement gates, the win draw, prize
// reservation under finite stock and the outcome log.
package gacha

import (
	"context"
	"errors"
	"log"
	"time"

	"gachalab/internal/models"
	"gachalab/internal/store"
)

type Status string

const (
	StatusSpun          Status = "SPUN"
	StatusNeedLoginFree Status = "NEED_LOGIN_FREE"
	StatusPaywall       Status = "PAYWALL"
	StatusNotFound      Status = "GACHA_NOT_FOUND"
	StatusInactive      Status = "GACHA_INACTIVE"
)

// Funding names the entitlement that paid for a spin.
type Funding string

const (
	FundingGuestFree  Funding = "guest_free"
	FundingLoginBonus Funding = "login_bonus"
	FundingCredit     Funding = "credit"
)

const (
	reserveAttempts = 3
	creditAttempts  = 3
)

type PrizeInfo struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	ImageURL *string `json:"image_url"`
}

type RedeemInfo struct {
	RedeemID  string    `json:"redeem_id"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	Prize     PrizeInfo `json:"prize"`
}

type Outcome struct {
	Status  Status
	GachaID string
	Result  models.Result
	Redeem  *RedeemInfo
	Funding Funding
	// Record is the outcome row as written; nil unless Status is SPUN.
	Record *models.SpinRecord
}

type Options struct {
	Rand      Source
	Now       func() time.Time
	RedeemTTL time.Duration
	NewCode   func() (string, error)
}

type Engine struct {
	store     store.Store
	rand      Source
	now       func() time.Time
	redeemTTL time.Duration
	newCode   func() (string, error)
}

func NewEngine(st store.Store, opts Options) *Engine {
	e := &Engine{
		store:     st,
		rand:      opts.Rand,
		now:       opts.Now,
		redeemTTL: opts.RedeemTTL,
		newCode:   opts.NewCode,
	}
	if e.rand == nil {
		e.rand = DefaultSource()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.redeemTTL <= 0 {
		e.redeemTTL = 30 * 24 * time.Hour
	}
	if e.newCode == nil {
		e.newCode = NewRedeemCode
	}
	return e
}

// Resolve runs one spin for the identity. Terminal states that are not
// SPUN come back as an Outcome; store failures come back as *Error.
func (e *Engine) Resolve(ctx context.Context, gachaID string, id models.Identity) (*Outcome, error) {
	g, err := e.store.GetGacha(ctx, gachaID)
	if errors.Is(err, store.ErrNotFound) {
		return &Outcome{Status: StatusNotFound, GachaID: gachaID}, nil
	}
	if err != nil {
		return nil, fail(CodeGachaLookupFailed, err)
	}
	if !g.IsActive {
		return &Outcome{Status: StatusInactive, GachaID: gachaID}, nil
	}

	var funding Funding
	var blocked Status
	if id.IsGuest() {
		funding, blocked, err = e.authorizeGuest(ctx, gachaID, id.GuestTokenHash)
	} else {
		funding, blocked, err = e.authorizeUser(ctx, gachaID, id.UserID)
	}
	if err != nil {
		return nil, err
	}
	if blocked != "" {
		return &Outcome{Status: blocked, GachaID: gachaID}, nil
	}

	result := models.ResultLose
	if r := e.rand.Float64(); r < g.EffectiveWinRate() {
		result = models.ResultWin
	}

	var redeem *RedeemInfo
	if result == models.ResultWin {
		redeem = e.reserve(ctx, gachaID, id)
		if redeem == nil {
			result = models.ResultLose
		}
	}

	userID, guestHash := id.Owner()
	rec := models.SpinRecord{
		GachaID:        gachaID,
		UserID:         userID,
		GuestTokenHash: guestHash,
		Result:         result,
		CreatedAt:      e.now().UTC(),
	}
	if redeem != nil {
		rec.RedeemCode = models.StringPtr(redeem.Code)
	}
	if err := e.store.InsertSpin(ctx, rec); err != nil {
		log.Printf("spin save failed: %v", err)
	}

	return &Outcome{
		Status:  StatusSpun,
		GachaID: gachaID,
		Result:  result,
		Redeem:  redeem,
		Funding: funding,
		Record:  &rec,
	}, nil
}

// The marker is written before the draw so a failed draw still consumes it.
func (e *Engine) authorizeGuest(ctx context.Context, gachaID, guestHash string) (Funding, Status, error) {
	used, err := e.store.HasGuestFreeSpin(ctx, gachaID, guestHash)
	if err != nil {
		return "", "", fail(CodeGuestLookupFailed, err)
	}
	if used {
		return "", StatusNeedLoginFree, nil
	}
	if err := e.store.MarkGuestFreeSpin(ctx, gachaID, guestHash, e.now().UTC()); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return "", StatusNeedLoginFree, nil
		}
		return "", "", fail(CodeGuestMarkFailed, err)
	}
	return FundingGuestFree, "", nil
}

func (e *Engine) authorizeUser(ctx context.Context, gachaID, userID string) (Funding, Status, error) {
	bonus, err := e.store.GetUserBonus(ctx, gachaID, userID)
	if err != nil {
		return "", "", fail(CodeBonusLookupFailed, err)
	}
	if bonus == nil {
		// a concurrent first spin may have created the row already
		if err := e.store.CreateUserBonus(ctx, gachaID, userID); err != nil && !errors.Is(err, store.ErrConflict) {
			return "", "", fail(CodeBonusInsertFailed, err)
		}
		bonus = &models.UserBonus{GachaID: gachaID, UserID: userID}
	}
	if !bonus.LoginFreeUsed {
		if err := e.store.MarkLoginFreeUsed(ctx, gachaID, userID, e.now().UTC()); err != nil {
			return "", "", fail(CodeBonusUpdateFailed, err)
		}
		return FundingLoginBonus, "", nil
	}
	return e.chargeCredit(ctx, userID)
}

// chargeCredit swaps balance for balance-1 guarded on the balance it read.
func (e *Engine) chargeCredit(ctx context.Context, userID string) (Funding, Status, error) {
	for attempt := 0; attempt < creditAttempts; attempt++ {
		balance, err := e.store.GetCreditBalance(ctx, userID)
		if err != nil {
			return "", "", fail(CodeCreditsLookupFailed, err)
		}
		if balance <= 0 {
			return "", StatusPaywall, nil
		}
		ok, err := e.store.SwapCreditBalance(ctx, userID, balance, balance-1, e.now().UTC())
		if err != nil {
			return "", "", fail(CodeCreditsUpdateFailed, err)
		}
		if ok {
			return FundingCredit, "", nil
		}
	}
	return "", "", fail(CodeCreditsUpdateFailed, errors.New("balance kept changing"))
}

// reserve returns nil when the win has to be downgraded to a loss.
func (e *Engine) reserve(ctx context.Context, gachaID string, id models.Identity) *RedeemInfo {
	for attempt := 0; attempt < reserveAttempts; attempt++ {
		prizes, err := e.store.ListAvailablePrizes(ctx, gachaID)
		if err != nil {
			log.Printf("prize lookup failed: %v", err)
			return nil
		}
		prize := Choose(prizes, e.rand.Float64())
		if prize == nil {
			return nil
		}
		ok, err := e.store.DecrementPrizeStock(ctx, *prize)
		if err != nil {
			log.Printf("stock update failed: prize=%s err=%v", prize.ID, err)
			return nil
		}
		if !ok {
			continue
		}
		redeem, err := e.issueRedeem(ctx, gachaID, id, *prize)
		if err != nil {
			// the decremented unit is not put back
			log.Printf("redeem insert failed: prize=%s err=%v", prize.ID, err)
			return nil
		}
		return redeem
	}
	return nil
}

func (e *Engine) issueRedeem(ctx context.Context, gachaID string, id models.Identity, prize models.Prize) (*RedeemInfo, error) {
	code, err := e.newCode()
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	userID, guestHash := id.Owner()
	row, err := e.store.CreateRedeem(ctx, models.Redeem{
		GachaID:        gachaID,
		UserID:         userID,
		GuestTokenHash: guestHash,
		PrizeID:        prize.ID,
		RedeemCode:     code,
		Status:         models.RedeemIssued,
		IssuedAt:       now,
		ExpiresAt:      now.Add(e.redeemTTL),
	})
	if err != nil {
		return nil, err
	}
	return &RedeemInfo{
		RedeemID:  row.ID,
		Code:      row.RedeemCode,
		ExpiresAt: row.ExpiresAt,
		Prize: PrizeInfo{
			ID:       prize.ID,
			Name:     prize.Name,
			ImageURL: prize.ImageURL,
		},
	}, nil
}
