// Package sqlstore 基于 GORM 的关系型存储实现（生产使用 MySQL）。
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Jun20220703/bit216as/internal/model"
	"github.com/Jun20220703/bit216as/internal/store"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Store GORM 存储。
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

// OpenMySQL 连接 MySQL 并执行自动迁移。
func OpenMySQL(dsn string) (*Store, error) {
	return Open(mysql.Open(dsn))
}

// Open 使用给定方言打开数据库并执行自动迁移。
//
// 参数:
//
//	dialector: GORM 方言（mysql.Open / sqlite.Open）
//
// 返回值:
//
//	*Store: 存储实例
//	error: 连接或迁移失败返回错误
func Open(dialector gorm.Dialector) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Migrate 自动迁移表结构。
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&model.User{}, &model.FoodItem{}, &model.Donation{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func tokenColumn(p model.Purpose) (string, error) {
	switch p {
	case model.PurposePasswordReset:
		return "password_reset_token", nil
	case model.PurposeTwoFactorSetup:
		return "two_factor_setup_token", nil
	case model.PurposeTwoFactorLogin:
		return "two_factor_login_token", nil
	default:
		return "", fmt.Errorf("unknown purpose %q", p)
	}
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return store.ErrDuplicate
	default:
		return err
	}
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where("email = ?", model.NormalizeEmail(email)).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *Store) FindByChallengeToken(ctx context.Context, purpose model.Purpose, token string) (*model.User, error) {
	if token == "" {
		return nil, store.ErrNotFound
	}
	col, err := tokenColumn(purpose)
	if err != nil {
		return nil, err
	}
	var u model.User
	if err := s.db.WithContext(ctx).Where(col+" = ?", token).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *Store) Create(ctx context.Context, user *model.User) error {
	user.Email = model.NormalizeEmail(user.Email)
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.Version = 1
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return translate(err)
	}
	return nil
}

// Save 条件更新：WHERE id = ? AND version = ?，影响 0 行时区分不存在与版本冲突。
func (s *Store) Save(ctx context.Context, user *model.User) error {
	prev := user.Version
	user.Email = model.NormalizeEmail(user.Email)
	user.Version = prev + 1

	res := s.db.WithContext(ctx).
		Model(user).
		Where("version = ?", prev).
		Select("*").
		Omit("id", "created_at").
		Updates(user)
	if res.Error != nil {
		user.Version = prev
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		user.Version = prev
		var count int64
		if err := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", user.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return store.ErrNotFound
		}
		return store.ErrConflict
	}
	return nil
}

func (s *Store) List(ctx context.Context, limit int) ([]model.User, error) {
	var users []model.User
	q := s.db.WithContext(ctx).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) ListFoods(ctx context.Context, filter store.FoodFilter) ([]model.FoodItem, error) {
	q := s.db.WithContext(ctx).Model(&model.FoodItem{})
	if filter.Owner != "" {
		q = q.Where("owner = ?", filter.Owner)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	var items []model.FoodItem
	if err := q.Order("expiry ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetFood(ctx context.Context, id string) (*model.FoodItem, error) {
	var f model.FoodItem
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&f).Error; err != nil {
		return nil, translate(err)
	}
	return &f, nil
}

func (s *Store) CreateFood(ctx context.Context, item *model.FoodItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = model.StatusInventory
	}
	return translate(s.db.WithContext(ctx).Create(item).Error)
}

func (s *Store) UpdateFood(ctx context.Context, item *model.FoodItem) error {
	res := s.db.WithContext(ctx).Model(item).Select("*").Omit("id", "created_at").Updates(item)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteFood(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.FoodItem{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ExpireFoods(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&model.FoodItem{}).
		Where("status = ? AND expiry < ?", model.StatusInventory, before).
		Updates(map[string]interface{}{
			"status":     model.StatusExpired,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

func (s *Store) ListDonations(ctx context.Context) ([]model.Donation, error) {
	var out []model.Donation
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetDonation(ctx context.Context, id string) (*model.Donation, error) {
	var d model.Donation
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

func (s *Store) CreateDonation(ctx context.Context, d *model.Donation) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return translate(s.db.WithContext(ctx).Create(d).Error)
}

func (s *Store) DeleteDonation(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Donation{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}
