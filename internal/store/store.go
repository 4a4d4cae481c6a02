// Package store 定义凭据存储与库存存储接口。
//
// 实现方只保证单文档原子性：Save 按 Version 做条件更新，
// 版本不匹配时返回 ErrConflict 而不是覆盖较新的数据。
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Jun20220703/bit216as/internal/model"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate key")
	ErrConflict  = errors.New("store: version conflict")
)

// UserStore 用户凭据存储。
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByID(ctx context.Context, id string) (*model.User, error)
	// FindByChallengeToken 按一次性链接 token 查找用户。
	FindByChallengeToken(ctx context.Context, purpose model.Purpose, token string) (*model.User, error)
	// Create 写入新用户并填充 ID、Version、时间戳。
	Create(ctx context.Context, user *model.User) error
	// Save 以 user.Version 为条件整体写回，成功后 Version 自增。
	Save(ctx context.Context, user *model.User) error
	List(ctx context.Context, limit int) ([]model.User, error)
}

// FoodFilter 库存查询条件，零值表示不过滤。
type FoodFilter struct {
	Owner  string
	Status model.ItemStatus
}

// FoodStore 家庭库存存储。
type FoodStore interface {
	ListFoods(ctx context.Context, filter FoodFilter) ([]model.FoodItem, error)
	GetFood(ctx context.Context, id string) (*model.FoodItem, error)
	CreateFood(ctx context.Context, item *model.FoodItem) error
	UpdateFood(ctx context.Context, item *model.FoodItem) error
	DeleteFood(ctx context.Context, id string) error
	// ExpireFoods 将 expiry 早于 before 的 inventory 记录标记为 expired，返回更新条数。
	ExpireFoods(ctx context.Context, before time.Time) (int64, error)
}

// DonationStore 公开捐赠列表存储。
type DonationStore interface {
	ListDonations(ctx context.Context) ([]model.Donation, error)
	GetDonation(ctx context.Context, id string) (*model.Donation, error)
	CreateDonation(ctx context.Context, d *model.Donation) error
	DeleteDonation(ctx context.Context, id string) error
}

// Store 聚合全部存储接口，由具体驱动实现。
type Store interface {
	UserStore
	FoodStore
	DonationStore
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
