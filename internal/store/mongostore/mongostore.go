// Package mongostore 基于 MongoDB 的存储实现（默认驱动）。
//
// 用户文档整体替换写回，清空的验证码字段随 omitempty 一并从文档中移除。
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Jun20220703/bit216as/internal/model"
	"github.com/Jun20220703/bit216as/internal/store"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection     = "users"
	foodsCollection     = "foods"
	donationsCollection = "donationlists"
)

// Store MongoDB 存储。
type Store struct {
	client    *mongo.Client
	users     *mongo.Collection
	foods     *mongo.Collection
	donations *mongo.Collection
	now       func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open 连接 MongoDB，校验连通性并创建索引。
//
// 参数:
//
//	ctx: 上下文
//	uri: 连接串（mongodb://...）
//	database: 数据库名
func Open(ctx context.Context, uri string, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:    client,
		users:     db.Collection(usersCollection),
		foods:     db.Collection(foodsCollection),
		donations: db.Collection(donationsCollection),
		now:       time.Now,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	userIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
	}
	for _, p := range model.Purposes() {
		userIndexes = append(userIndexes, mongo.IndexModel{
			Keys:    bson.D{{Key: challengeField(p) + ".tempToken", Value: 1}},
			Options: options.Index().SetSparse(true),
		})
	}
	if _, err := s.users.Indexes().CreateMany(ctx, userIndexes); err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	if _, err := s.foods.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "owner", Value: 1}, {Key: "status", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create food indexes: %w", err)
	}
	return nil
}

func challengeField(p model.Purpose) string {
	switch p {
	case model.PurposePasswordReset:
		return "passwordReset"
	case model.PurposeTwoFactorSetup:
		return "twoFactorSetup"
	case model.PurposeTwoFactorLogin:
		return "twoFactorLogin"
	default:
		return ""
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return store.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return store.ErrDuplicate
	default:
		return err
	}
}

func (s *Store) findUser(ctx context.Context, filter bson.M) (*model.User, error) {
	var u model.User
	if err := s.users.FindOne(ctx, filter).Decode(&u); err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.findUser(ctx, bson.M{"email": model.NormalizeEmail(email)})
}

func (s *Store) FindByID(ctx context.Context, id string) (*model.User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *Store) FindByChallengeToken(ctx context.Context, purpose model.Purpose, token string) (*model.User, error) {
	field := challengeField(purpose)
	if field == "" {
		return nil, fmt.Errorf("unknown purpose %q", purpose)
	}
	if token == "" {
		return nil, store.ErrNotFound
	}
	return s.findUser(ctx, bson.M{field + ".tempToken": token})
}

func (s *Store) Create(ctx context.Context, user *model.User) error {
	user.Email = model.NormalizeEmail(user.Email)
	if user.ID == "" {
		user.ID = primitive.NewObjectID().Hex()
	}
	now := s.now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.Version = 1
	if _, err := s.users.InsertOne(ctx, user); err != nil {
		return translate(err)
	}
	return nil
}

// Save 以 {_id, version} 为条件整体替换。
func (s *Store) Save(ctx context.Context, user *model.User) error {
	prev := user.Version
	prevUpdated := user.UpdatedAt
	user.Email = model.NormalizeEmail(user.Email)
	user.Version = prev + 1
	user.UpdatedAt = s.now().UTC()

	res, err := s.users.ReplaceOne(ctx, bson.M{"_id": user.ID, "version": prev}, user)
	if err != nil {
		user.Version, user.UpdatedAt = prev, prevUpdated
		return translate(err)
	}
	if res.MatchedCount == 0 {
		user.Version, user.UpdatedAt = prev, prevUpdated
		n, err := s.users.CountDocuments(ctx, bson.M{"_id": user.ID})
		if err != nil {
			return err
		}
		if n == 0 {
			return store.ErrNotFound
		}
		return store.ErrConflict
	}
	return nil
}

func (s *Store) List(ctx context.Context, limit int) ([]model.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.users.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	var users []model.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) ListFoods(ctx context.Context, filter store.FoodFilter) ([]model.FoodItem, error) {
	q := bson.M{}
	if filter.Owner != "" {
		q["owner"] = filter.Owner
	}
	if filter.Status != "" {
		q["status"] = filter.Status
	}
	cur, err := s.foods.Find(ctx, q, options.Find().SetSort(bson.D{{Key: "expiry", Value: 1}}))
	if err != nil {
		return nil, err
	}
	items := make([]model.FoodItem, 0)
	if err := cur.All(ctx, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetFood(ctx context.Context, id string) (*model.FoodItem, error) {
	var f model.FoodItem
	if err := s.foods.FindOne(ctx, bson.M{"_id": id}).Decode(&f); err != nil {
		return nil, translate(err)
	}
	return &f, nil
}

func (s *Store) CreateFood(ctx context.Context, item *model.FoodItem) error {
	if item.ID == "" {
		item.ID = primitive.NewObjectID().Hex()
	}
	if item.Status == "" {
		item.Status = model.StatusInventory
	}
	now := s.now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	_, err := s.foods.InsertOne(ctx, item)
	return translate(err)
}

func (s *Store) UpdateFood(ctx context.Context, item *model.FoodItem) error {
	item.UpdatedAt = s.now().UTC()
	res, err := s.foods.ReplaceOne(ctx, bson.M{"_id": item.ID}, item)
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteFood(ctx context.Context, id string) error {
	res, err := s.foods.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ExpireFoods(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.foods.UpdateMany(ctx,
		bson.M{"status": model.StatusInventory, "expiry": bson.M{"$lt": before}},
		bson.M{"$set": bson.M{"status": model.StatusExpired, "updatedAt": s.now().UTC()}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *Store) ListDonations(ctx context.Context) ([]model.Donation, error) {
	cur, err := s.donations.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	out := make([]model.Donation, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetDonation(ctx context.Context, id string) (*model.Donation, error) {
	var d model.Donation
	if err := s.donations.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

func (s *Store) CreateDonation(ctx context.Context, d *model.Donation) error {
	if d.ID == "" {
		d.ID = primitive.NewObjectID().Hex()
	}
	d.CreatedAt = s.now().UTC()
	_, err := s.donations.InsertOne(ctx, d)
	return translate(err)
}

func (s *Store) DeleteDonation(ctx context.Context, id string) error {
	res, err := s.donations.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}
