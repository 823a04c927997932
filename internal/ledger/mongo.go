package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	apperr "github.com/obverse/obverse/internal/errors"
)

const transactionsCollection = "transactions"

// MongoLedger stores transactions in the document store next to wallets.
type MongoLedger struct {
	coll *mongo.Collection
}

// NewMongoLedger constructs a Mongo-backed ledger.
func NewMongoLedger(db *mongo.Database) *MongoLedger {
	return &MongoLedger{coll: db.Collection(transactionsCollection)}
}

// EnsureIndexes creates the per-wallet history index.
func (l *MongoLedger) EnsureIndexes(ctx context.Context) error {
	_, err := l.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "wallet_id", Value: 1}, {Key: "created_at", Value: -1}},
		Options: options.Index().SetName("by_wallet"),
	})
	return err
}

// Record inserts a transaction.
func (l *MongoLedger) Record(ctx context.Context, tx Transaction) (Transaction, error) {
	tx, err := prepare(tx, uuid.NewString(), time.Now().UTC())
	if err != nil {
		return Transaction{}, err
	}
	if _, err := l.coll.InsertOne(ctx, tx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			existing, getErr := l.Get(ctx, tx.ID)
			if getErr != nil {
				return Transaction{}, getErr
			}
			return existing, ErrDuplicateTransaction
		}
		return Transaction{}, err
	}
	return tx, nil
}

// MarkConfirmed settles a pending transaction as confirmed.
func (l *MongoLedger) MarkConfirmed(ctx context.Context, id, txHash string, at time.Time) error {
	return l.settle(ctx, id, bson.M{
		"status":       StatusConfirmed,
		"tx_hash":      txHash,
		"confirmed_at": at.UTC(),
		"updated_at":   at.UTC(),
	})
}

// MarkFailed settles a pending transaction as failed.
func (l *MongoLedger) MarkFailed(ctx context.Context, id, failureCode string, at time.Time) error {
	return l.settle(ctx, id, bson.M{
		"status":       StatusFailed,
		"failure_code": failureCode,
		"updated_at":   at.UTC(),
	})
}

func (l *MongoLedger) settle(ctx context.Context, id string, set bson.M) error {
	res, err := l.coll.UpdateOne(ctx, bson.M{"_id": id, "status": StatusPending}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		if _, err := l.Get(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

// Get fetches a transaction.
func (l *MongoLedger) Get(ctx context.Context, id string) (Transaction, error) {
	var tx Transaction
	if err := l.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&tx); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Transaction{}, apperr.NotFound("transaction not found")
		}
		return Transaction{}, err
	}
	return tx, nil
}

// ListByWallet returns the newest transactions of a wallet.
func (l *MongoLedger) ListByWallet(ctx context.Context, walletID string, limit int) ([]Transaction, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(normalizeLimit(limit)))
	cur, err := l.coll.Find(ctx, bson.M{"wallet_id": walletID}, opts)
	if err != nil {
		return nil, err
	}
	var out []Transaction
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
