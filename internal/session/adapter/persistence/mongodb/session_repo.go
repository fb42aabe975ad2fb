package mongodb

import (
	"context"
	"fmt"
	"time"

	"session-registry/internal/session/domain/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSessionRepository implements the SessionRepository interface using MongoDB.
// One document per session id: {sessionId, sessions: [{data, expiresAt, createdAt}]}.
type MongoSessionRepository struct {
	collection *mongo.Collection
}

// NewMongoSessionRepository creates a repository over db.collectionName.
func NewMongoSessionRepository(db *mongo.Database, collectionName string) *MongoSessionRepository {
	return &MongoSessionRepository{
		collection: db.Collection(collectionName),
	}
}

// EnsureIndexes creates the unique session id index.
func (r *MongoSessionRepository) EnsureIndexes(ctx context.Context) error {
	sessionIDIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "sessionId", Value: 1}},
		Options: options.Index().SetUnique(true),
	}

	if _, err := r.collection.Indexes().CreateOne(ctx, sessionIDIndex); err != nil {
		return fmt.Errorf("create sessionId index: %w", err)
	}
	return nil
}

// PushRecord appends rec, upserting the session document.
func (r *MongoSessionRepository) PushRecord(ctx context.Context, sessionID string, rec model.Record) error {
	update := bson.M{"$push": bson.M{"sessions": rec}}
	_, err := r.collection.UpdateOne(ctx, bson.M{"sessionId": sessionID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("push record for session %s: %w", sessionID, err)
	}
	return nil
}

// ReplaceRecords sets the record list to [rec], upserting the session document.
func (r *MongoSessionRepository) ReplaceRecords(ctx context.Context, sessionID string, rec model.Record) error {
	update := bson.M{"$set": bson.M{"sessions": []model.Record{rec}}}
	_, err := r.collection.UpdateOne(ctx, bson.M{"sessionId": sessionID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("replace records for session %s: %w", sessionID, err)
	}
	return nil
}

// ClearRecords empties the record list. Missing documents are left missing.
func (r *MongoSessionRepository) ClearRecords(ctx context.Context, sessionID string) error {
	update := bson.M{"$set": bson.M{"sessions": bson.A{}}}
	if _, err := r.collection.UpdateOne(ctx, bson.M{"sessionId": sessionID}, update); err != nil {
		return fmt.Errorf("clear records for session %s: %w", sessionID, err)
	}
	return nil
}

// PullRecord removes the record whose createdAt equals createdAt.
func (r *MongoSessionRepository) PullRecord(ctx context.Context, sessionID string, createdAt time.Time) error {
	update := bson.M{"$pull": bson.M{"sessions": bson.M{"createdAt": bson.M{"$eq": createdAt}}}}
	if _, err := r.collection.UpdateOne(ctx, bson.M{"sessionId": sessionID}, update); err != nil {
		return fmt.Errorf("pull record for session %s: %w", sessionID, err)
	}
	return nil
}

// PullExpired removes every record with expiresAt <= now from every document.
func (r *MongoSessionRepository) PullExpired(ctx context.Context, now time.Time) error {
	update := bson.M{"$pull": bson.M{"sessions": bson.M{"expiresAt": bson.M{"$lte": now}}}}
	if _, err := r.collection.UpdateMany(ctx, bson.M{}, update); err != nil {
		return fmt.Errorf("pull expired records: %w", err)
	}
	return nil
}

// LoadAll returns every session document.
func (r *MongoSessionRepository) LoadAll(ctx context.Context) ([]*model.Session, error) {
	cursor, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("find sessions: %w", err)
	}
	defer cursor.Close(ctx)

	var sessions []*model.Session
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return sessions, nil
}

// Ping checks the server behind the collection is reachable.
func (r *MongoSessionRepository) Ping(ctx context.Context) error {
	return r.collection.Database().Client().Ping(ctx, nil)
}
