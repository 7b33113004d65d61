package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/apiflow/pkg/api"
)

// DefaultMongoDatabase is used when NewMongoStore is given no database name.
const DefaultMongoDatabase = "apiflow"

// MongoStore keeps results in the "results" collection and events in
// "run_events" of one database.
type MongoStore struct {
	results *mongo.Collection
	events  *mongo.Collection
}

var (
	_ ResultStore = (*MongoStore)(nil)
	_ EventStore  = (*MongoStore)(nil)
)

type mongoResultDoc struct {
	ID        string `bson:"_id"`
	Workflow  string `bson:"workflow_name"`
	Status    string `bson:"status"`
	StartedAt int64  `bson:"started_at"`
	Payload   []byte `bson:"payload"`
}

type mongoEventDoc struct {
	RunID    string `bson:"run_id"`
	Seq      int64  `bson:"seq"`
	At       int64  `bson:"at"`
	Type     string `bson:"type"`
	Workflow string `bson:"workflow_name,omitempty"`
	Phase    string `bson:"phase,omitempty"`
	Step     string `bson:"step,omitempty"`
	Detail   string `bson:"detail,omitempty"`
}

// NewMongoStore creates the indexes it needs in dbName and returns the store.
func NewMongoStore(ctx context.Context, client *mongo.Client, dbName string) (*MongoStore, error) {
	if dbName == "" {
		dbName = DefaultMongoDatabase
	}
	db := client.Database(dbName)
	s := &MongoStore{
		results: db.Collection("results"),
		events:  db.Collection("run_events"),
	}
	if _, err := s.results.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "workflow_name", Value: 1}, {Key: "started_at", Value: 1}},
	}); err != nil {
		return nil, fmt.Errorf("mongo results index: %w", err)
	}
	if _, err := s.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "run_id", Value: 1}, {Key: "seq", Value: 1}},
	}); err != nil {
		return nil, fmt.Errorf("mongo events index: %w", err)
	}
	return s, nil
}

func (s *MongoStore) SaveResult(ctx context.Context, res *api.WorkflowResult) error {
	payload, err := EncodeResult(res)
	if err != nil {
		return err
	}
	doc := mongoResultDoc{
		ID:        res.ID,
		Workflow:  res.Name,
		Status:    string(res.Status),
		StartedAt: res.StartedAt.UnixNano(),
		Payload:   payload,
	}
	_, err = s.results.ReplaceOne(ctx, bson.M{"_id": res.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) GetResult(ctx context.Context, id string) (*api.WorkflowResult, error) {
	var doc mongoResultDoc
	if err := s.results.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}
	return DecodeResult(doc.Payload)
}

func (s *MongoStore) ListResults(ctx context.Context, opts api.ResultListOptions) ([]*api.WorkflowResult, error) {
	filter := bson.M{}
	if opts.WorkflowName != "" {
		filter["workflow_name"] = opts.WorkflowName
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	cur, err := s.results.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []*api.WorkflowResult{}
	for cur.Next(ctx) {
		var doc mongoResultDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		res, err := DecodeResult(doc.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, cur.Err()
}

// AppendEvent stores ev after the run's latest event. Sequence numbers are
// per run and come from the wall clock, bumped past the previous event.
func (s *MongoStore) AppendEvent(ctx context.Context, ev api.RunEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	seq := at.UnixNano()
	var last mongoEventDoc
	err := s.events.FindOne(ctx, bson.M{"run_id": ev.RunID},
		options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}})).Decode(&last)
	switch {
	case err == nil && last.Seq >= seq:
		seq = last.Seq + 1
	case err != nil && !errors.Is(err, mongo.ErrNoDocuments):
		return err
	}

	_, err = s.events.InsertOne(ctx, mongoEventDoc{
		RunID:    ev.RunID,
		Seq:      seq,
		At:       at.UnixNano(),
		Type:     string(ev.Type),
		Workflow: ev.Workflow,
		Phase:    string(ev.Phase),
		Step:     ev.Step,
		Detail:   ev.Detail,
	})
	return err
}

func (s *MongoStore) ListEvents(ctx context.Context, runID string) ([]api.RunEvent, error) {
	cur, err := s.events.Find(ctx, bson.M{"run_id": runID},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []api.RunEvent
	for cur.Next(ctx) {
		var doc mongoEventDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, api.RunEvent{
			RunID:    doc.RunID,
			At:       time.Unix(0, doc.At),
			Type:     api.EventType(doc.Type),
			Workflow: doc.Workflow,
			Phase:    api.Phase(doc.Phase),
			Step:     doc.Step,
			Detail:   doc.Detail,
		})
	}
	return out, cur.Err()
}
