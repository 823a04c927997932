package identity

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	apperr "github.com/obverse/obverse/internal/errors"
)

// Repository persists users.
type Repository interface {
	Create(ctx context.Context, user User) error
	FindByID(ctx context.Context, id string) (User, error)
	FindByTelegramID(ctx context.Context, telegramID int64) (User, error)
	AddWallet(ctx context.Context, id, walletID string, at time.Time) error
}

const usersCollection = "users"

// MongoRepository implements Repository using MongoDB.
type MongoRepository struct {
	coll *mongo.Collection
}

// NewMongoRepository builds a Mongo-backed identity repository.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{coll: db.Collection(usersCollection)}
}

// EnsureIndexes makes the Telegram identifier unique.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "telegram_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_telegram_id"),
	})
	return err
}

// Create inserts a new user.
func (r *MongoRepository) Create(ctx context.Context, user User) error {
	if _, err := r.coll.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperr.Wrap(apperr.CodeConflict, "user already registered", err)
		}
		return err
	}
	return nil
}

// FindByID fetches a user by identifier.
func (r *MongoRepository) FindByID(ctx context.Context, id string) (User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// FindByTelegramID fetches a user by chat identifier.
func (r *MongoRepository) FindByTelegramID(ctx context.Context, telegramID int64) (User, error) {
	return r.findOne(ctx, bson.M{"telegram_id": telegramID})
}

// AddWallet links a wallet to the user.
func (r *MongoRepository) AddWallet(ctx context.Context, id, walletID string, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$addToSet": bson.M{"wallet_ids": walletID},
			"$set":      bson.M{"updated_at": at.UTC()},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("user not found")
	}
	return nil
}

func (r *MongoRepository) findOne(ctx context.Context, filter bson.M) (User, error) {
	var user User
	if err := r.coll.FindOne(ctx, filter).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return User{}, apperr.NotFound("user not found")
		}
		return User{}, err
	}
	return user, nil
}
