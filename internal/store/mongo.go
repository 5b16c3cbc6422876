package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/example/delivery-pipeline/internal/message"
)

type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(client *mongo.Client, database, collection string) *MongoStore {
	return &MongoStore{collection: client.Database(database).Collection(collection)}
}

type mongoMessage struct {
	ID                string                 `bson:"_id"`
	Channel           string                 `bson:"channel"`
	Sender            message.Address        `bson:"sender"`
	Recipients        []string               `bson:"recipients"`
	Cc                []string               `bson:"cc,omitempty"`
	Bcc               []string               `bson:"bcc,omitempty"`
	Content           message.Content        `bson:"content"`
	Priority          string                 `bson:"priority"`
	Correlation       message.CorrelationRef `bson:"correlation"`
	Status            string                 `bson:"status"`
	RetryCount        int                    `bson:"retry_count"`
	ErrorMessage      string                 `bson:"error_message,omitempty"`
	ProviderMessageID string                 `bson:"provider_message_id,omitempty"`
	CreatedAt         time.Time              `bson:"created_at"`
	UpdatedAt         time.Time              `bson:"updated_at"`
	SentAt            *time.Time             `bson:"sent_at,omitempty"`
	DeliveredAt       *time.Time             `bson:"delivered_at,omitempty"`
}

func toMongo(r message.Record) mongoMessage {
	return mongoMessage{
		ID:                r.ID,
		Channel:           string(r.Channel),
		Sender:            r.Sender,
		Recipients:        r.Recipients,
		Cc:                r.Cc,
		Bcc:               r.Bcc,
		Content:           r.Content,
		Priority:          string(r.Priority),
		Correlation:       r.Correlation,
		Status:            string(r.Status),
		RetryCount:        r.RetryCount,
		ErrorMessage:      r.ErrorMessage,
		ProviderMessageID: r.ProviderMessageID,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
		SentAt:            r.SentAt,
		DeliveredAt:       r.DeliveredAt,
	}
}

func (d mongoMessage) record() message.Record {
	return message.Record{
		ID:                d.ID,
		Channel:           message.Channel(d.Channel),
		Sender:            d.Sender,
		Recipients:        d.Recipients,
		Cc:                d.Cc,
		Bcc:               d.Bcc,
		Content:           d.Content,
		Priority:          message.Priority(d.Priority),
		Correlation:       d.Correlation,
		Status:            message.Status(d.Status),
		RetryCount:        d.RetryCount,
		ErrorMessage:      d.ErrorMessage,
		ProviderMessageID: d.ProviderMessageID,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
		SentAt:            d.SentAt,
		DeliveredAt:       d.DeliveredAt,
	}
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}}},
		{Keys: bson.D{{Key: "correlation.leadid", Value: 1}}},
		{Keys: bson.D{{Key: "correlation.campaignid", Value: 1}}},
		{Keys: bson.D{{Key: "provider_message_id", Value: 1}}},
	})
	if err != nil {
		return &message.StoreError{Op: "ensure indexes", Err: err}
	}
	return nil
}

func (s *MongoStore) Save(ctx context.Context, msg *message.Message) error {
	if _, err := s.collection.InsertOne(ctx, toMongo(msg.Record())); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return message.ErrConflict
		}
		return &message.StoreError{Op: "save", Err: err}
	}
	return nil
}

func (s *MongoStore) FindByID(ctx context.Context, id string) (*message.Message, error) {
	return s.findOne(ctx, "find by id", bson.M{"_id": id})
}

func (s *MongoStore) Update(ctx context.Context, msg *message.Message) error {
	res, err := s.collection.ReplaceOne(ctx, bson.M{"_id": msg.ID}, toMongo(msg.Record()))
	if err != nil {
		return &message.StoreError{Op: "update", Err: err}
	}
	if res.MatchedCount == 0 {
		return message.ErrNotFound
	}
	return nil
}

func (s *MongoStore) FindByStatus(ctx context.Context, status message.Status, limit int) ([]*message.Message, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(normalizeLimit(limit)))
	return s.find(ctx, "find by status", bson.M{"status": string(status)}, opts)
}

func (s *MongoStore) FindByCorrelation(ctx context.Context, ref message.CorrelationRef) ([]*message.Message, error) {
	if ref.Empty() {
		return nil, nil
	}
	return s.find(ctx, "find by correlation", correlationFilter(ref),
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
}

func (s *MongoStore) FindByProviderMessageID(ctx context.Context, providerMessageID string) (*message.Message, error) {
	if providerMessageID == "" {
		return nil, message.ErrNotFound
	}
	return s.findOne(ctx, "find by provider id", bson.M{"provider_message_id": providerMessageID})
}

func (s *MongoStore) FindStranded(ctx context.Context, before time.Time, limit int) ([]*message.Message, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(normalizeLimit(limit)))
	return s.find(ctx, "find stranded", strandedFilter(before), opts)
}

func correlationFilter(ref message.CorrelationRef) bson.M {
	filter := bson.M{}
	if ref.LeadID != "" {
		filter["correlation.leadid"] = ref.LeadID
	}
	if ref.CampaignID != "" {
		filter["correlation.campaignid"] = ref.CampaignID
	}
	return filter
}

func strandedFilter(before time.Time) bson.M {
	return bson.M{
		"updated_at": bson.M{"$lt": before},
		"$or": []bson.M{
			{"status": string(message.StatusPending)},
			{"status": string(message.StatusFailed), "retry_count": bson.M{"$lt": message.MaxRetries}},
		},
	}
}

func (s *MongoStore) findOne(ctx context.Context, op string, filter bson.M) (*message.Message, error) {
	var doc mongoMessage
	if err := s.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, message.ErrNotFound
		}
		return nil, &message.StoreError{Op: op, Err: err}
	}
	return message.FromRecord(doc.record()), nil
}

func (s *MongoStore) find(ctx context.Context, op string, filter bson.M, opts *options.FindOptions) ([]*message.Message, error) {
	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, &message.StoreError{Op: op, Err: err}
	}
	defer cursor.Close(ctx)

	var out []*message.Message
	for cursor.Next(ctx) {
		var doc mongoMessage
		if err := cursor.Decode(&doc); err != nil {
			return nil, &message.StoreError{Op: op, Err: err}
		}
		out = append(out, message.FromRecord(doc.record()))
	}
	if err := cursor.Err(); err != nil {
		return nil, &message.StoreError{Op: op, Err: err}
	}
	return out, nil
}
