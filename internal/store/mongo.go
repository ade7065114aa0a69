package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"call-audit-go/internal/logger"
	"call-audit-go/internal/types"
)

// MongoStore keeps one document per saved report.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

func NewMongo(ctx context.Context, uri, db, collection string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	s := NewMongoFromCollection(client.Database(db).Collection(collection))
	s.client = client
	return s, nil
}

// NewMongoFromCollection wraps an existing collection. Close does not
// disconnect a client it did not create.
func NewMongoFromCollection(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll, now: time.Now}
}

func (s *MongoStore) Save(ctx context.Context, agent, date, file string, report types.AuditReport) error {
	if err := checkDate(date); err != nil {
		return err
	}
	rec := Record{
		AgentName: agent,
		Date:      date,
		FileName:  file,
		Report:    report,
		CreatedAt: s.now().UTC(),
	}
	if _, err := s.coll.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	logger.New().WithField("component", "store").
		WithField("agent", agent).WithField("date", date).WithField("file", file).
		Info("report saved")
	return nil
}

func (s *MongoStore) List(ctx context.Context, agent string) ([]Record, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "date", Value: -1},
		{Key: "created_at", Value: -1},
	})
	cur, err := s.coll.Find(ctx, bson.D{{Key: "agent_name", Value: agent}}, opts)
	if err != nil {
		return nil, fmt.Errorf("find reports: %w", err)
	}
	out := []Record{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode reports: %w", err)
	}
	return out, nil
}

func (s *MongoStore) DeleteAgent(ctx context.Context, agent string) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.D{{Key: "agent_name", Value: agent}})
	if err != nil {
		return 0, fmt.Errorf("delete reports: %w", err)
	}
	logger.New().WithField("component", "store").WithField("agent", agent).
		WithField("deleted", res.DeletedCount).Info("reports deleted")
	return res.DeletedCount, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
