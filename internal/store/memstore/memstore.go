// Package memstore keeps the entitlement store in process memory. It backs
// STORE_DRIVER=memory for local demos and the package tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"gachalab/internal/models"
	"gachalab/internal/store"
)

type Store struct {
	mu         sync.Mutex
	gachas     map[string]models.Gacha
	prizes     map[string]models.Prize
	prizeOrder []string
	guestSpins map[string]time.Time
	bonus      map[string]models.UserBonus
	credits    map[string]models.Credits
	redeems    []models.Redeem
	spins      []models.SpinRecord
	events     []models.TrackEvent
	orders     map[string]models.CreditOrder
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		gachas:     make(map[string]models.Gacha),
		prizes:     make(map[string]models.Prize),
		guestSpins: make(map[string]time.Time),
		bonus:      make(map[string]models.UserBonus),
		credits:    make(map[string]models.Credits),
		orders:     make(map[string]models.CreditOrder),
	}
}

func pairKey(a, b string) string {
	return a + "|" + b
}

// PutGacha inserts or replaces a gacha.
func (s *Store) PutGacha(g models.Gacha) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gachas[g.ID] = g
}

// PutPrize inserts or replaces a prize, generating an id when empty.
func (s *Store) PutPrize(p models.Prize) models.Prize {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, ok := s.prizes[p.ID]; !ok {
		s.prizeOrder = append(s.prizeOrder, p.ID)
	}
	s.prizes[p.ID] = p
	return p
}

// SetCredits overwrites a user's balance.
func (s *Store) SetCredits(userID string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credits[userID] = models.Credits{UserID: userID, Balance: balance, UpdatedAt: time.Now()}
}

// Spins returns a copy of the outcome log.
func (s *Store) Spins() []models.SpinRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SpinRecord(nil), s.spins...)
}

// Redeems returns a copy of every issued redeem.
func (s *Store) Redeems() []models.Redeem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Redeem(nil), s.redeems...)
}

// Events returns a copy of the tracked events.
func (s *Store) Events() []models.TrackEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.TrackEvent(nil), s.events...)
}

func (s *Store) GetGacha(ctx context.Context, id string) (*models.Gacha, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gachas[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &g, nil
}

func (s *Store) ListGachas(ctx context.Context, activeOnly bool, limit int) ([]models.Gacha, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Gacha, 0, len(s.gachas))
	for _, g := range s.gachas {
		if activeOnly && !g.IsActive {
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateGacha(ctx context.Context, id string, patch store.GachaPatch) (*models.Gacha, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gachas[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if patch.WinRate != nil {
		rate := *patch.WinRate
		g.WinRate = &rate
	}
	if patch.IsActive != nil {
		g.IsActive = *patch.IsActive
	}
	s.gachas[id] = g
	return &g, nil
}

func (s *Store) listPrizes(gachaID string, availableOnly bool) []models.Prize {
	out := make([]models.Prize, 0)
	for _, id := range s.prizeOrder {
		p := s.prizes[id]
		if p.GachaID != gachaID {
			continue
		}
		if availableOnly && !p.Available() {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (s *Store) ListPrizes(ctx context.Context, gachaID string) ([]models.Prize, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listPrizes(gachaID, false), nil
}

func (s *Store) ListAvailablePrizes(ctx context.Context, gachaID string) ([]models.Prize, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listPrizes(gachaID, true), nil
}

func (s *Store) UpdatePrize(ctx context.Context, id string, patch store.PrizePatch) (*models.Prize, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prizes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Stock != nil {
		p.Stock = *patch.Stock
	}
	if patch.Weight != nil {
		p.Weight = *patch.Weight
	}
	if patch.IsActive != nil {
		p.IsActive = *patch.IsActive
	}
	if patch.ImageURL != nil {
		p.ImageURL = models.StringPtr(*patch.ImageURL)
	}
	s.prizes[id] = p
	return &p, nil
}

func (s *Store) DecrementPrizeStock(ctx context.Context, prize models.Prize) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prizes[prize.ID]
	if !ok || p.Stock <= 0 {
		return false, nil
	}
	p.Stock--
	s.prizes[p.ID] = p
	return true, nil
}

func (s *Store) HasGuestFreeSpin(ctx context.Context, gachaID, guestHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.guestSpins[pairKey(gachaID, guestHash)]
	return ok, nil
}

func (s *Store) MarkGuestFreeSpin(ctx context.Context, gachaID, guestHash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(gachaID, guestHash)
	if _, ok := s.guestSpins[key]; ok {
		return store.ErrConflict
	}
	s.guestSpins[key] = at
	return nil
}

func (s *Store) GetUserBonus(ctx context.Context, gachaID, userID string) (*models.UserBonus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bonus[pairKey(gachaID, userID)]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s *Store) CreateUserBonus(ctx context.Context, gachaID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(gachaID, userID)
	if _, ok := s.bonus[key]; ok {
		return store.ErrConflict
	}
	s.bonus[key] = models.UserBonus{GachaID: gachaID, UserID: userID}
	return nil
}

func (s *Store) MarkLoginFreeUsed(ctx context.Context, gachaID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(gachaID, userID)
	b, ok := s.bonus[key]
	if !ok {
		return store.ErrNotFound
	}
	b.LoginFreeUsed = true
	b.LoginFreeUsedAt = &at
	s.bonus[key] = b
	return nil
}

func (s *Store) GetCreditBalance(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credits[userID].Balance, nil
}

func (s *Store) SwapCreditBalance(ctx context.Context, userID string, prev, next int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credits[userID]
	if !ok || c.Balance != prev {
		return false, nil
	}
	c.Balance = next
	c.UpdatedAt = at
	s.credits[userID] = c
	return true, nil
}

func (s *Store) AddCredits(ctx context.Context, userID string, delta int64, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.credits[userID]
	c.UserID = userID
	c.Balance += delta
	c.UpdatedAt = at
	s.credits[userID] = c
	return c.Balance, nil
}

func (s *Store) CreateRedeem(ctx context.Context, r models.Redeem) (*models.Redeem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	s.redeems = append(s.redeems, r)
	return &r, nil
}

func (s *Store) ListUserRedeems(ctx context.Context, userID string, limit int) ([]models.Redeem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Redeem, 0)
	for _, r := range s.redeems {
		if r.UserID != nil && *r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ClaimGuestRedeems(ctx context.Context, guestHash, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	claimed := 0
	for i, r := range s.redeems {
		if r.UserID != nil || r.GuestTokenHash == nil || *r.GuestTokenHash != guestHash {
			continue
		}
		uid := userID
		s.redeems[i].UserID = &uid
		claimed++
	}
	return claimed, nil
}

func (s *Store) InsertSpin(ctx context.Context, rec models.SpinRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	s.spins = append(s.spins, rec)
	return nil
}

func (s *Store) LastSpin(ctx context.Context, q store.LastSpinQuery) (*models.SpinRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.spins) - 1; i >= 0; i-- {
		rec := s.spins[i]
		if q.GachaID != "" && rec.GachaID != q.GachaID {
			continue
		}
		if !q.Since.IsZero() && rec.CreatedAt.Before(q.Since) {
			continue
		}
		if q.Identity.IsGuest() {
			if models.Deref(rec.GuestTokenHash) != q.Identity.GuestTokenHash {
				continue
			}
		} else if models.Deref(rec.UserID) != q.Identity.UserID {
			continue
		}
		return &rec, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) InsertEvent(ctx context.Context, ev models.TrackEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *Store) CreateCreditOrder(ctx context.Context, o models.CreditOrder) (*models.CreditOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	s.orders[o.ID] = o
	return &o, nil
}

func (s *Store) GetCreditOrder(ctx context.Context, id string) (*models.CreditOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &o, nil
}

func (s *Store) ListCreditOrders(ctx context.Context, status models.OrderStatus, limit int) ([]models.CreditOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CreditOrder, 0)
	for _, o := range s.orders {
		if status != "" && o.Status != status {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) TransitionCreditOrder(ctx context.Context, id string, to models.OrderStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if o.Status != models.OrderPending {
		return false, nil
	}
	o.Status = to
	if to == models.OrderPaid {
		o.PaidAt = &at
	}
	s.orders[id] = o
	return true, nil
}

// SeedDemo adds one active gacha with a few prizes for local runs.
func (s *Store) SeedDemo(gachaID string) {
	if gachaID == "" {
		gachaID = "demo"
	}
	rate := 0.3
	s.PutGacha(models.Gacha{ID: gachaID, Name: "Demo gacha", WinRate: &rate, IsActive: true})
	for _, p := range []models.Prize{
		{Name: "Sticker pack", Stock: 50, Weight: 10},
		{Name: "Enamel pin", Stock: 10, Weight: 3},
		{Name: "Plush", Stock: 2, Weight: 1},
	} {
		p.GachaID = gachaID
		p.IsActive = true
		s.PutPrize(p)
	}
}
