// Package storetest 提供各存储实现共用的行为测试。
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/Jun20220703/bit216as/internal/model"
	"github.com/Jun20220703/bit216as/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run 对 newStore 返回的空存储执行全部用例，每个用例使用独立实例。
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("CreateAndFind", func(t *testing.T) { testCreateAndFind(t, newStore(t)) })
	t.Run("DuplicateEmail", func(t *testing.T) { testDuplicateEmail(t, newStore(t)) })
	t.Run("SaveVersionConflict", func(t *testing.T) { testSaveVersionConflict(t, newStore(t)) })
	t.Run("SaveUnknownUser", func(t *testing.T) { testSaveUnknownUser(t, newStore(t)) })
	t.Run("ChallengeRoundTrip", func(t *testing.T) { testChallengeRoundTrip(t, newStore(t)) })
	t.Run("FoodLifecycle", func(t *testing.T) { testFoodLifecycle(t, newStore(t)) })
	t.Run("Donations", func(t *testing.T) { testDonations(t, newStore(t)) })
}

func newUser(email string) *model.User {
	return &model.User{
		Name:         "Test User",
		Email:        email,
		PasswordHash: "hash",
		Preferences:  model.DefaultPreferences(),
	}
}

func testCreateAndFind(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser("  Alice@Example.com ")
	require.NoError(t, s.Create(ctx, u))
	require.NotEmpty(t, u.ID)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, int64(1), u.Version)

	got, err := s.FindByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	got, err = s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)

	_, err = s.FindByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)

	users, err := s.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func testDuplicateEmail(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newUser("bob@example.com")))
	err := s.Create(ctx, newUser("BOB@example.com"))
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func testSaveVersionConflict(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser("carol@example.com")
	require.NoError(t, s.Create(ctx, u))

	first, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	second, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)

	first.Name = "First Writer"
	require.NoError(t, s.Save(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.Name = "Stale Writer"
	err = s.Save(ctx, second)
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, int64(1), second.Version)

	got, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "First Writer", got.Name)
}

func testSaveUnknownUser(t *testing.T, s store.Store) {
	u := newUser("ghost@example.com")
	u.ID = "does-not-exist"
	u.Version = 1
	err := s.Save(context.Background(), u)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testChallengeRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser("dave@example.com")
	require.NoError(t, s.Create(ctx, u))

	issued := time.Now().UTC().Truncate(time.Second)
	expires := issued.Add(10 * time.Minute)
	u.TwoFactorSetup = model.Challenge{
		Code:      "123456",
		Token:     "tok-abc",
		State:     model.StateIssued,
		IssuedAt:  &issued,
		ExpiresAt: &expires,
		Attempts:  2,
	}
	require.NoError(t, s.Save(ctx, u))

	got, err := s.FindByChallengeToken(ctx, model.PurposeTwoFactorSetup, "tok-abc")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "123456", got.TwoFactorSetup.Code)
	assert.Equal(t, model.StateIssued, got.TwoFactorSetup.State)
	assert.Equal(t, 2, got.TwoFactorSetup.Attempts)
	require.NotNil(t, got.TwoFactorSetup.ExpiresAt)
	assert.True(t, got.TwoFactorSetup.ExpiresAt.Equal(expires))

	_, err = s.FindByChallengeToken(ctx, model.PurposeTwoFactorSetup, "other")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.FindByChallengeToken(ctx, model.PurposeTwoFactorSetup, "")
	assert.ErrorIs(t, err, store.ErrNotFound)

	got.TwoFactorSetup.Clear(model.StateConfirmed, time.Now())
	got.TwoFactorEnabled = true
	require.NoError(t, s.Save(ctx, got))

	_, err = s.FindByChallengeToken(ctx, model.PurposeTwoFactorSetup, "tok-abc")
	assert.ErrorIs(t, err, store.ErrNotFound)

	final, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, final.TwoFactorEnabled)
	assert.Empty(t, final.TwoFactorSetup.Code)
	assert.Nil(t, final.TwoFactorSetup.ExpiresAt)
	assert.Equal(t, model.StateConfirmed, final.TwoFactorSetup.State)
}

func testFoodLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	milk := &model.FoodItem{Owner: "u1", Name: "Milk", Qty: 2, Expiry: now.Add(-48 * time.Hour), Category: "Dairy", Storage: model.StorageFridge}
	rice := &model.FoodItem{Owner: "u1", Name: "Rice", Qty: 1, Expiry: now.Add(30 * 24 * time.Hour), Category: "Grains", Storage: model.StorageShelf}
	other := &model.FoodItem{Owner: "u2", Name: "Eggs", Qty: 12, Expiry: now.Add(-24 * time.Hour), Category: "Dairy", Storage: model.StorageFridge}
	for _, f := range []*model.FoodItem{milk, rice, other} {
		require.NoError(t, s.CreateFood(ctx, f))
		assert.Equal(t, model.StatusInventory, f.Status)
	}
	other.Status = model.StatusDonation
	require.NoError(t, s.UpdateFood(ctx, other))

	items, err := s.ListFoods(ctx, store.FoodFilter{Owner: "u1"})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	n, err := s.ExpireFoods(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetFood(ctx, milk.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, got.Status)

	got, err = s.GetFood(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDonation, got.Status)

	require.NoError(t, s.DeleteFood(ctx, rice.ID))
	assert.ErrorIs(t, s.DeleteFood(ctx, rice.ID), store.ErrNotFound)
	_, err = s.GetFood(ctx, rice.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDonations(t *testing.T, s store.Store) {
	ctx := context.Background()
	d := &model.Donation{FoodID: "f1", FoodName: "Bread", Owner: "u1", Qty: 1, Location: "Block A", Availability: "Weekends"}
	require.NoError(t, s.CreateDonation(ctx, d))
	require.NotEmpty(t, d.ID)

	list, err := s.ListDonations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Bread", list[0].FoodName)

	got, err := s.GetDonation(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "Block A", got.Location)

	require.NoError(t, s.DeleteDonation(ctx, d.ID))
	assert.ErrorIs(t, s.DeleteDonation(ctx, d.ID), store.ErrNotFound)
}
