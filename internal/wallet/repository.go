package wallet

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	apperr "github.com/obverse/obverse/internal/errors"
)

// Repository persists wallet records.
type Repository interface {
	Create(ctx context.Context, wallet Wallet) error
	Get(ctx context.Context, id string) (Wallet, error)
	GetByAddress(ctx context.Context, address string) (Wallet, error)
	ListByUser(ctx context.Context, userID string) ([]Wallet, error)
	// ReplaceKey swaps the key material only if the stored blob still equals
	// expectedBlob.
	ReplaceKey(ctx context.Context, id, expectedBlob string, key KeyMaterial, at time.Time) error
	UpdateTokenBalance(ctx context.Context, id, symbol, balance string, at time.Time) error
	Deactivate(ctx context.Context, id string, at time.Time) error
}

const walletsCollection = "wallets"

// MongoRepository stores wallets in MongoDB.
type MongoRepository struct {
	coll *mongo.Collection
}

// NewMongoRepository builds a repository backed by the wallets collection.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{coll: db.Collection(walletsCollection)}
}

// EnsureIndexes creates the unique address index and the owner lookup index.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "address", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_address")},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: 1}}, Options: options.Index().SetName("by_user")},
	})
	return err
}

// Create inserts a wallet record.
func (r *MongoRepository) Create(ctx context.Context, wallet Wallet) error {
	if _, err := r.coll.InsertOne(ctx, wallet); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperr.Wrap(apperr.CodeDuplicateAddress, "wallet address already stored", err)
		}
		return err
	}
	return nil
}

// Get fetches a wallet by identifier.
func (r *MongoRepository) Get(ctx context.Context, id string) (Wallet, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// GetByAddress fetches a wallet by its on-chain address.
func (r *MongoRepository) GetByAddress(ctx context.Context, address string) (Wallet, error) {
	return r.findOne(ctx, bson.M{"address": address})
}

// ListByUser returns the user's wallets oldest first.
func (r *MongoRepository) ListByUser(ctx context.Context, userID string) ([]Wallet, error) {
	cur, err := r.coll.Find(ctx, bson.M{"user_id": userID}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var out []Wallet
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReplaceKey performs a compare-and-swap on the encrypted key.
func (r *MongoRepository) ReplaceKey(ctx context.Context, id, expectedBlob string, key KeyMaterial, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "encrypted_key": expectedBlob},
		bson.M{"$set": bson.M{
			"encrypted_key":  key.EncryptedKey,
			"key_salt":       key.Salt,
			"kdf_iterations": key.KDFIterations,
			"secret_id":      key.SecretID,
			"updated_at":     at.UTC(),
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return r.missingOrConflict(ctx, id)
	}
	return nil
}

// UpdateTokenBalance stores the latest known balance for a token, appending
// the token entry when the wallet does not track it yet.
func (r *MongoRepository) UpdateTokenBalance(ctx context.Context, id, symbol, balance string, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "tokens.symbol": symbol},
		bson.M{"$set": bson.M{"tokens.$.balance": balance, "updated_at": at.UTC()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	res, err = r.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$push": bson.M{"tokens": Token{Symbol: symbol, Balance: balance}},
			"$set":  bson.M{"updated_at": at.UTC()},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("wallet not found")
	}
	return nil
}

// Deactivate flags the wallet inactive. Records are never removed.
func (r *MongoRepository) Deactivate(ctx context.Context, id string, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"active": false, "deactivated_at": at.UTC(), "updated_at": at.UTC()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("wallet not found")
	}
	return nil
}

func (r *MongoRepository) findOne(ctx context.Context, filter bson.M) (Wallet, error) {
	var w Wallet
	if err := r.coll.FindOne(ctx, filter).Decode(&w); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Wallet{}, apperr.NotFound("wallet not found")
		}
		return Wallet{}, err
	}
	return w, nil
}

func (r *MongoRepository) missingOrConflict(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return apperr.New(apperr.CodeConflict, "wallet key changed concurrently")
}
