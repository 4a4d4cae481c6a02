// Package memstore 提供进程内存储实现，用于本地开发与测试。
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Jun20220703/bit216as/internal/model"
	"github.com/Jun20220703/bit216as/internal/store"

	"github.com/google/uuid"
)

// Store 内存存储，所有读写返回副本。
type Store struct {
	mu        sync.RWMutex
	users     map[string]model.User
	byEmail   map[string]string
	foods     map[string]model.FoodItem
	donations map[string]model.Donation
	now       func() time.Time
}

var _ store.Store = (*Store)(nil)

// New 创建空的内存存储。
func New() *Store {
	return &Store{
		users:     make(map[string]model.User),
		byEmail:   make(map[string]string),
		foods:     make(map[string]model.FoodItem),
		donations: make(map[string]model.Donation),
		now:       time.Now,
	}
}

func (s *Store) Ping(ctx context.Context) error  { return nil }
func (s *Store) Close(ctx context.Context) error { return nil }

func (s *Store) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[model.NormalizeEmail(email)]
	if !ok {
		return nil, store.ErrNotFound
	}
	u := s.users[id]
	return &u, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *Store) FindByChallengeToken(ctx context.Context, purpose model.Purpose, token string) (*model.User, error) {
	if token == "" {
		return nil, store.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		u := u
		if ch := u.Challenge(purpose); ch != nil && ch.Token == token {
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) Create(ctx context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user.Email = model.NormalizeEmail(user.Email)
	if _, exists := s.byEmail[user.Email]; exists {
		return store.ErrDuplicate
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := s.now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.Version = 1
	s.users[user.ID] = *user
	s.byEmail[user.Email] = user.ID
	return nil
}

func (s *Store) Save(ctx context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.users[user.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != user.Version {
		return store.ErrConflict
	}
	user.Email = model.NormalizeEmail(user.Email)
	if owner, taken := s.byEmail[user.Email]; taken && owner != user.ID {
		return store.ErrDuplicate
	}
	if current.Email != user.Email {
		delete(s.byEmail, current.Email)
		s.byEmail[user.Email] = user.ID
	}
	user.Version++
	user.UpdatedAt = s.now().UTC()
	s.users[user.ID] = *user
	return nil
}

func (s *Store) List(ctx context.Context, limit int) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListFoods(ctx context.Context, filter store.FoodFilter) ([]model.FoodItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.FoodItem, 0)
	for _, f := range s.foods {
		if filter.Owner != "" && f.Owner != filter.Owner {
			continue
		}
		if filter.Status != "" && f.Status != filter.Status {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Expiry.Before(out[j].Expiry) })
	return out, nil
}

func (s *Store) GetFood(ctx context.Context, id string) (*model.FoodItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.foods[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &f, nil
}

func (s *Store) CreateFood(ctx context.Context, item *model.FoodItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = model.StatusInventory
	}
	now := s.now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	s.foods[item.ID] = *item
	return nil
}

func (s *Store) UpdateFood(ctx context.Context, item *model.FoodItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.foods[item.ID]; !ok {
		return store.ErrNotFound
	}
	item.UpdatedAt = s.now().UTC()
	s.foods[item.ID] = *item
	return nil
}

func (s *Store) DeleteFood(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.foods[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.foods, id)
	return nil
}

func (s *Store) ExpireFoods(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	now := s.now().UTC()
	for id, f := range s.foods {
		if f.Status == model.StatusInventory && f.Expiry.Before(before) {
			f.Status = model.StatusExpired
			f.UpdatedAt = now
			s.foods[id] = f
			n++
		}
	}
	return n, nil
}

func (s *Store) ListDonations(ctx context.Context) ([]model.Donation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Donation, 0, len(s.donations))
	for _, d := range s.donations {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetDonation(ctx context.Context, id string) (*model.Donation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.donations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (s *Store) CreateDonation(ctx context.Context, d *model.Donation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = s.now().UTC()
	s.donations[d.ID] = *d
	return nil
}

func (s *Store) DeleteDonation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.donations[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.donations, id)
	return nil
}
