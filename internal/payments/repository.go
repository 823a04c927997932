package payments

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	apperr "github.com/obverse/obverse/internal/errors"
)

// ErrNotActive is returned when a transition requires an active link.
var ErrNotActive = apperr.New(apperr.CodeConflict, "payment link is no longer active")

// Repository persists payment links. Status changes are compare-and-swap on
// the current status so concurrent confirmations cannot both win.
type Repository interface {
	Create(ctx context.Context, link Link) error
	Get(ctx context.Context, id string) (Link, error)
	ListByMerchant(ctx context.Context, merchantUserID string, activeOnly bool) ([]Link, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]Link, error)
	SetStatus(ctx context.Context, id string, from, to Status, at time.Time) error
	// RecordPayment stores p on an active link and moves it to paid when
	// closes is true.
	RecordPayment(ctx context.Context, id string, p Payment, closes bool) error
}

const linksCollection = "payment_links"

// MongoRepository stores payment links in MongoDB.
type MongoRepository struct {
	coll *mongo.Collection
}

// NewMongoRepository builds a repository backed by the payment_links collection.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{coll: db.Collection(linksCollection)}
}

// EnsureIndexes creates the merchant listing and expiry sweep indexes.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "merchant_user_id", Value: 1}, {Key: "created_at", Value: -1}}, Options: options.Index().SetName("by_merchant")},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}}, Options: options.Index().SetName("by_expiry")},
	})
	return err
}

// Create inserts a link.
func (r *MongoRepository) Create(ctx context.Context, link Link) error {
	if _, err := r.coll.InsertOne(ctx, link); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperr.Wrap(apperr.CodeConflict, "payment link id already used", err)
		}
		return err
	}
	return nil
}

// Get fetches a link by id.
func (r *MongoRepository) Get(ctx context.Context, id string) (Link, error) {
	var link Link
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&link); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Link{}, apperr.NotFound("payment link not found")
		}
		return Link{}, err
	}
	return link, nil
}

// ListByMerchant returns the merchant's links newest first.
func (r *MongoRepository) ListByMerchant(ctx context.Context, merchantUserID string, activeOnly bool) ([]Link, error) {
	filter := bson.M{"merchant_user_id": merchantUserID}
	if activeOnly {
		filter["status"] = StatusActive
	}
	return r.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
}

// ListDue returns active links whose expiry has passed.
func (r *MongoRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]Link, error) {
	filter := bson.M{"status": StatusActive, "expires_at": bson.M{"$lte": now.UTC()}}
	return r.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "expires_at", Value: 1}}).SetLimit(int64(limit)))
}

// SetStatus moves a link from one status to another.
func (r *MongoRepository) SetStatus(ctx context.Context, id string, from, to Status, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": bson.M{"status": to, "updated_at": at.UTC()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return r.missingOrInactive(ctx, id)
	}
	return nil
}

// RecordPayment stores a payment on an active link.
func (r *MongoRepository) RecordPayment(ctx context.Context, id string, p Payment, closes bool) error {
	set := bson.M{
		"payment_tx_hash": p.TxHash,
		"paid_by_user_id": p.PaidByUserID,
		"paid_at":         p.PaidAt.UTC(),
		"updated_at":      p.PaidAt.UTC(),
	}
	if closes {
		set["status"] = StatusPaid
	}
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "status": StatusActive},
		bson.M{"$set": set, "$inc": bson.M{"payments": 1}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return r.missingOrInactive(ctx, id)
	}
	return nil
}

func (r *MongoRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]Link, error) {
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var out []Link
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoRepository) missingOrInactive(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return ErrNotActive
}
