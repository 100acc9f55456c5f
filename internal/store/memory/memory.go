// Package memory реализует store.Store в памяти процесса.
//
// Транзакции сериализуются одним мьютексом и откатываются восстановлением
// снимка состояния. Используется при запуске без DATABASE_URI и в тестах.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/rewards-engine/internal/apperr"
	"github.com/mmeshcher/rewards-engine/internal/model"
	"github.com/mmeshcher/rewards-engine/internal/store"
)

type state struct {
	vouchers    map[string]model.Voucher
	users       map[int64]model.User
	phones      map[string]int64
	allocations map[int64]model.Allocation
	usages      []model.UsageEvent
	segments    int

	nextUserID       int64
	nextAllocationID int64
	nextUsageID      int64
}

func newState() *state {
	return &state{
		vouchers:    make(map[string]model.Voucher),
		users:       make(map[int64]model.User),
		phones:      make(map[string]int64),
		allocations: make(map[int64]model.Allocation),
	}
}

func (s *state) clone() *state {
	c := *s
	c.vouchers = make(map[string]model.Voucher, len(s.vouchers))
	for k, v := range s.vouchers {
		c.vouchers[k] = v
	}
	c.users = make(map[int64]model.User, len(s.users))
	for k, v := range s.users {
		c.users[k] = v
	}
	c.phones = make(map[string]int64, len(s.phones))
	for k, v := range s.phones {
		c.phones[k] = v
	}
	c.allocations = make(map[int64]model.Allocation, len(s.allocations))
	for k, v := range s.allocations {
		c.allocations[k] = v
	}
	c.usages = append([]model.UsageEvent(nil), s.usages...)
	return &c
}

// Store хранит состояние в памяти процесса.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

// AddUser добавляет пользователя и возвращает его идентификатор.
func (s *Store) AddUser(u model.User) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.nextUserID++
	u.ID = s.st.nextUserID
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	s.st.users[u.ID] = u
	if u.Phone != "" {
		s.st.phones[u.Phone] = u.ID
	}
	return u.ID
}

// AddVoucher добавляет или заменяет ваучер каталога.
func (s *Store) AddVoucher(v model.Voucher) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now()
		v.UpdatedAt = v.CreatedAt
	}
	s.st.vouchers[v.ID] = v
}

// Close ничего не делает.
func (s *Store) Close() error { return nil }

// Ping всегда успешен.
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// InTx выполняет fn под глобальной блокировкой; ошибка fn восстанавливает снимок.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return apperr.Unavailable(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(ctx, &tx{st: s.st, now: s.now}); err != nil {
		s.st = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		s.st = snapshot
		return apperr.Unavailable(err)
	}
	return nil
}

// ListVouchers возвращает ваучеры категории (или все) в порядке создания.
func (s *Store) ListVouchers(ctx context.Context, category string) ([]model.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]model.Voucher, 0, len(s.st.vouchers))
	for _, v := range s.st.vouchers {
		if category != "" && !v.InCategory(category) {
			continue
		}
		res = append(res, v)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

// GetVoucher ищет ваучер по идентификатору или коду.
func (s *Store) GetVoucher(ctx context.Context, idOrCode string) (*model.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return (&tx{st: s.st}).FindVoucher(ctx, idOrCode)
}

// CountAllocationsInCategory считает записи пользователя в категории.
func (s *Store) CountAllocationsInCategory(ctx context.Context, userID int64, category string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return (&tx{st: s.st}).CountAllocationsInCategory(ctx, userID, category)
}

// ListOwned возвращает ваучеры пользователя, новые первыми.
func (s *Store) ListOwned(ctx context.Context, userID int64) ([]model.OwnedVoucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []model.OwnedVoucher
	for _, a := range s.st.allocations {
		if a.UserID != userID {
			continue
		}
		v, ok := s.st.vouchers[a.VoucherID]
		if !ok {
			continue
		}
		var usages []time.Time
		for _, u := range s.st.usages {
			if u.AllocationID == a.ID {
				usages = append(usages, u.UsedAt)
			}
		}
		res = append(res, model.OwnedVoucher{Voucher: v, Allocation: a, Usages: usages})
	}
	sort.Slice(res, func(i, j int) bool {
		ai, aj := res[i].Allocation, res[j].Allocation
		if ai.AssignedAt.Equal(aj.AssignedAt) {
			return ai.ID > aj.ID
		}
		return ai.AssignedAt.After(aj.AssignedAt)
	})
	return res, nil
}

// WheelSegments возвращает число секторов колеса.
func (s *Store) WheelSegments(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.st.segments == 0 {
		return model.DefaultWheelSegments, nil
	}
	return s.st.segments, nil
}

// DeactivateExpired выключает активные ваучеры с истёкшим сроком.
func (s *Store) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, v := range s.st.vouchers {
		if v.IsActive && v.ExpiredAt(now) {
			v.IsActive = false
			v.UpdatedAt = now
			s.st.vouchers[id] = v
			n++
		}
	}
	return n, nil
}

type tx struct {
	st  *state
	now func() time.Time
}

func (t *tx) LockUser(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return apperr.ErrUserNotFound
	}
	if _, ok := t.st.users[userID]; !ok {
		t.st.users[userID] = model.User{ID: userID, CreatedAt: t.now()}
		if userID > t.st.nextUserID {
			t.st.nextUserID = userID
		}
	}
	return nil
}

func (t *tx) EnsureUserByPhone(ctx context.Context, phone, displayName string) (int64, error) {
	if id, ok := t.st.phones[phone]; ok {
		if displayName != "" {
			u := t.st.users[id]
			u.DisplayName = displayName
			t.st.users[id] = u
		}
		return id, nil
	}

	t.st.nextUserID++
	u := model.User{
		ID:          t.st.nextUserID,
		Phone:       phone,
		DisplayName: displayName,
		CreatedAt:   t.now(),
	}
	t.st.users[u.ID] = u
	t.st.phones[phone] = u.ID
	return u.ID, nil
}

func (t *tx) LockVoucher(ctx context.Context, voucherID string) (*model.Voucher, error) {
	v, ok := t.st.vouchers[voucherID]
	if !ok {
		return nil, apperr.ErrVoucherNotFound
	}
	return &v, nil
}

func (t *tx) DecrementStock(ctx context.Context, voucherID string, amount int64) error {
	v, ok := t.st.vouchers[voucherID]
	if !ok {
		return apperr.ErrVoucherNotFound
	}
	if v.Quantity < amount {
		return apperr.ErrOutOfStock
	}
	v.Quantity -= amount
	v.UpdatedAt = t.now()
	t.st.vouchers[voucherID] = v
	return nil
}

func (t *tx) CountAllocationsInCategory(ctx context.Context, userID int64, category string) (int, error) {
	n := 0
	for _, a := range t.st.allocations {
		if a.UserID != userID {
			continue
		}
		if v, ok := t.st.vouchers[a.VoucherID]; ok && v.InCategory(category) {
			n++
		}
	}
	return n, nil
}

func (t *tx) FindAllocation(ctx context.Context, userID int64, voucherID string) (*model.Allocation, error) {
	var found *model.Allocation
	for _, a := range t.st.allocations {
		if a.UserID != userID || a.VoucherID != voucherID {
			continue
		}
		if found == nil || a.ID > found.ID {
			a := a
			found = &a
		}
	}
	return found, nil
}

func (t *tx) InsertAllocation(ctx context.Context, a model.Allocation) (*model.Allocation, error) {
	if _, ok := t.st.users[a.UserID]; !ok {
		return nil, apperr.ErrUserNotFound
	}
	if _, ok := t.st.vouchers[a.VoucherID]; !ok {
		return nil, apperr.ErrVoucherNotFound
	}
	t.st.nextAllocationID++
	a.ID = t.st.nextAllocationID
	t.st.allocations[a.ID] = a
	return &a, nil
}

func (t *tx) IncreaseAllocation(ctx context.Context, allocationID, amount int64, label string) (*model.Allocation, error) {
	a, ok := t.st.allocations[allocationID]
	if !ok {
		return nil, apperr.ErrRecordNotFound
	}
	a.Quantity += amount
	if a.Quantity > 0 {
		a.IsUsed = false
	}
	if label != "" {
		a.Label = label
	}
	t.st.allocations[allocationID] = a
	return &a, nil
}

func (t *tx) LockAllocation(ctx context.Context, allocationID int64) (*model.Allocation, error) {
	a, ok := t.st.allocations[allocationID]
	if !ok {
		return nil, apperr.ErrRecordNotFound
	}
	return &a, nil
}

func (t *tx) ConsumeUnit(ctx context.Context, allocationID int64, at time.Time) (*model.Allocation, *model.UsageEvent, error) {
	a, ok := t.st.allocations[allocationID]
	if !ok {
		return nil, nil, apperr.ErrRecordNotFound
	}
	if a.Quantity <= 0 {
		return nil, nil, apperr.ErrNothingToConsume
	}
	a.Quantity--
	a.IsUsed = a.Quantity == 0
	a.UsedAt = &at
	t.st.allocations[allocationID] = a

	t.st.nextUsageID++
	ev := model.UsageEvent{ID: t.st.nextUsageID, AllocationID: allocationID, UsedAt: at}
	t.st.usages = append(t.st.usages, ev)
	return &a, &ev, nil
}

func (t *tx) ResetUsage(ctx context.Context, allocationID int64) (*model.Allocation, error) {
	a, ok := t.st.allocations[allocationID]
	if !ok {
		return nil, apperr.ErrRecordNotFound
	}
	a.IsUsed = false
	a.UsedAt = nil
	t.st.allocations[allocationID] = a
	return &a, nil
}

// LockCategory ничего не делает: InTx уже держит глобальную блокировку.
func (t *tx) LockCategory(ctx context.Context, category string) error { return nil }

func (t *tx) SumActiveWeights(ctx context.Context, category, excludeVoucherID string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for id, v := range t.st.vouchers {
		if id == excludeVoucherID || !v.IsActive || !v.InCategory(category) {
			continue
		}
		sum = sum.Add(v.Weight())
	}
	return sum, nil
}

func (t *tx) FindVoucher(ctx context.Context, idOrCode string) (*model.Voucher, error) {
	if v, ok := t.st.vouchers[idOrCode]; ok {
		return &v, nil
	}
	for _, v := range t.st.vouchers {
		if strings.EqualFold(v.Code, idOrCode) {
			return &v, nil
		}
	}
	return nil, apperr.ErrVoucherNotFound
}

func (t *tx) InsertVoucher(ctx context.Context, v model.Voucher) (*model.Voucher, error) {
	if _, ok := t.st.vouchers[v.ID]; ok {
		return nil, apperr.ErrVoucherExists
	}
	for _, existing := range t.st.vouchers {
		if existing.Code == v.Code {
			return nil, store.ErrCodeTaken
		}
	}
	now := t.now()
	v.CreatedAt, v.UpdatedAt = now, now
	t.st.vouchers[v.ID] = v
	return &v, nil
}

func (t *tx) UpdateVoucher(ctx context.Context, v model.Voucher) (*model.Voucher, error) {
	old, ok := t.st.vouchers[v.ID]
	if !ok {
		return nil, apperr.ErrVoucherNotFound
	}
	v.Code = old.Code
	v.CreatedAt = old.CreatedAt
	v.UpdatedAt = t.now()
	t.st.vouchers[v.ID] = v
	return &v, nil
}

func (t *tx) DeleteVoucher(ctx context.Context, voucherID string) error {
	if _, ok := t.st.vouchers[voucherID]; !ok {
		return apperr.ErrVoucherNotFound
	}
	delete(t.st.vouchers, voucherID)

	removed := make(map[int64]bool)
	for id, a := range t.st.allocations {
		if a.VoucherID == voucherID {
			removed[id] = true
			delete(t.st.allocations, id)
		}
	}
	kept := t.st.usages[:0]
	for _, u := range t.st.usages {
		if !removed[u.AllocationID] {
			kept = append(kept, u)
		}
	}
	t.st.usages = kept
	return nil
}

func (t *tx) SetWheelSegments(ctx context.Context, n int) error {
	t.st.segments = n
	return nil
}
