package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"time"

	"github.com/Jun20220703/bit216as/internal/model"
	"github.com/Jun20220703/bit216as/internal/store"

	"golang.org/x/crypto/bcrypt"
)

const demoEmail = "demo@foodshield.local"

// SeedDemoData 初始化演示家庭账号与几条库存数据，账号已存在时不做任何修改。
//
// 演示账号的密码每次生成时随机产生，只在非生产环境写入日志。
func (s *Server) SeedDemoData(ctx context.Context) error {
	_, err := s.store.FindByEmail(ctx, demoEmail)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	password, err := randomPassword()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user := &model.User{
		Name:          "Demo Household",
		Email:         demoEmail,
		PasswordHash:  string(hash),
		HouseholdSize: "4",
		Preferences:   model.DefaultPreferences(),
	}
	if err := s.store.Create(ctx, user); err != nil {
		return err
	}

	today := s.now().UTC().Truncate(24 * time.Hour)
	day := 24 * time.Hour
	foods := []*model.FoodItem{
		{Name: "Fresh Milk", Qty: 2, Expiry: today.Add(2 * day), Category: "Dairy", Storage: model.StorageFridge},
		{Name: "Cheddar Cheese", Qty: 1, Expiry: today.Add(20 * day), Category: "Dairy", Storage: model.StorageFridge},
		{Name: "Spinach", Qty: 1, Expiry: today.Add(day), Category: "Vegetables", Storage: model.StorageFridge},
		{Name: "Frozen Peas", Qty: 3, Expiry: today.Add(120 * day), Category: "Vegetables", Storage: model.StorageFreezer},
		{Name: "Jasmine Rice", Qty: 1, Expiry: today.Add(300 * day), Category: "Grains", Storage: model.StorageShelf},
		{Name: "Canned Tuna", Qty: 6, Expiry: today.Add(400 * day), Category: "Canned", Storage: model.StorageShelf},
	}
	for _, f := range foods {
		f.Owner = user.ID
		f.Status = model.StatusInventory
		if err := s.store.CreateFood(ctx, f); err != nil {
			return err
		}
	}

	donated := foods[len(foods)-1]
	donated.Status = model.StatusDonation
	if err := s.store.UpdateFood(ctx, donated); err != nil {
		return err
	}
	if err := s.store.CreateDonation(ctx, &model.Donation{
		FoodID:       donated.ID,
		FoodName:     donated.Name,
		Owner:        user.ID,
		Qty:          donated.Qty,
		Location:     "Community Hall, Block B",
		Availability: "Weekdays 6pm-9pm",
	}); err != nil {
		return err
	}

	attrs := []any{slog.String("email", demoEmail), slog.Int("foods", len(foods))}
	if !s.cfg.IsProd() {
		attrs = append(attrs, slog.String("password", password))
	}
	s.logger.Info("demo household seeded", attrs...)
	return nil
}

func randomPassword() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
