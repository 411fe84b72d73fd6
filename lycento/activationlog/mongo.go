package activationlog

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const defaultMongoCollection = "lycento_activations"

// validCollectionName matches safe MongoDB collection names.
var validCollectionName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// MongoOption configures a MongoJournal.
type MongoOption func(*MongoJournal)

// WithCollectionName sets the MongoDB collection name. Default: "lycento_activations".
func WithCollectionName(name string) MongoOption {
	return func(j *MongoJournal) {
		j.collectionName = name
	}
}

// MongoJournal implements Journal using MongoDB.
type MongoJournal struct {
	collection     *mongo.Collection
	collectionName string
}

// NewMongoJournal creates a MongoDB-backed journal.
// It creates the necessary indexes on initialization.
func NewMongoJournal(ctx context.Context, db *mongo.Database, opts ...MongoOption) (*MongoJournal, error) {
	j := &MongoJournal{
		collectionName: defaultMongoCollection,
	}
	for _, opt := range opts {
		opt(j)
	}
	if !validCollectionName.MatchString(j.collectionName) {
		return nil, fmt.Errorf("invalid collection name %q: must match [a-zA-Z_][a-zA-Z0-9_]*", j.collectionName)
	}
	j.collection = db.Collection(j.collectionName)

	if err := j.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return j, nil
}

func (j *MongoJournal) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "license_key", Value: 1},
				{Key: "device_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "state", Value: 1},
				{Key: "created_at", Value: 1},
			},
		},
	}
	_, err := j.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

func pairFilter(licenseKey, deviceID string) bson.M {
	return bson.M{"license_key": licenseKey, "device_id": deviceID}
}

func (j *MongoJournal) Begin(ctx context.Context, e Entry) (*Entry, error) {
	now := time.Now()
	set := bson.M{
		"device_name": e.DeviceName,
		"platform":    e.Platform,
		"state":       StatePending,
		"reason":      "",
		"updated_at":  now,
	}
	onInsert := bson.M{"created_at": now}
	// Empty ids keep the stored ones.
	for field, v := range map[string]string{"activation_id": e.ActivationID, "request_id": e.RequestID} {
		if v != "" {
			set[field] = v
		} else {
			onInsert[field] = ""
		}
	}
	update := bson.M{"$set": set, "$setOnInsert": onInsert}

	// ReturnDocument=After keeps created_at of existing entries.
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	var out Entry
	err := j.collection.FindOneAndUpdate(ctx, pairFilter(e.LicenseKey, e.DeviceID), update, opts).Decode(&out)
	if err != nil {
		return nil, fmt.Errorf("begin activation entry: %w", err)
	}
	return &out, nil
}

func (j *MongoJournal) Resolve(ctx context.Context, licenseKey, deviceID string, u Update) (*Entry, error) {
	set := bson.M{
		"state":      u.State,
		"reason":     u.Reason,
		"updated_at": time.Now(),
	}
	if u.ActivationID != "" {
		set["activation_id"] = u.ActivationID
	}
	if u.RequestID != "" {
		set["request_id"] = u.RequestID
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var out Entry
	err := j.collection.FindOneAndUpdate(ctx, pairFilter(licenseKey, deviceID), bson.M{"$set": set}, opts).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve activation entry: %w", err)
	}
	return &out, nil
}

func (j *MongoJournal) Get(ctx context.Context, licenseKey, deviceID string) (*Entry, error) {
	var out Entry
	err := j.collection.FindOne(ctx, pairFilter(licenseKey, deviceID)).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get activation entry: %w", err)
	}
	return &out, nil
}

func (j *MongoJournal) List(ctx context.Context, licenseKey string) ([]Entry, error) {
	return j.find(ctx, bson.M{"license_key": licenseKey})
}

func (j *MongoJournal) Uncertain(ctx context.Context) ([]Entry, error) {
	return j.find(ctx, bson.M{"state": bson.M{"$in": bson.A{StatePending, StateUncertain}}})
}

func (j *MongoJournal) Prune(ctx context.Context, licenseKey string, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	result, err := j.collection.DeleteMany(ctx, bson.M{
		"license_key": licenseKey,
		"state":       bson.M{"$in": bson.A{StateFailed, StateDeactivated}},
		"updated_at":  bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, fmt.Errorf("prune activation entries: %w", err)
	}
	return int(result.DeletedCount), nil
}

func (j *MongoJournal) Close(_ context.Context) error {
	return nil // user manages the mongo.Database lifecycle
}

func (j *MongoJournal) find(ctx context.Context, filter bson.M) ([]Entry, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "license_key", Value: 1},
		{Key: "device_id", Value: 1},
	})
	cursor, err := j.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list activation entries: %w", err)
	}
	var entries []Entry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("decode activation entries: %w", err)
	}
	return entries, nil
}
