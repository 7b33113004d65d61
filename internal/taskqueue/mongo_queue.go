package taskqueue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoQueue is a persistent Queue stored in the "run_tasks" collection.
// FindOneAndDelete claims a task atomically.
type MongoQueue struct {
	coll         *mongo.Collection
	pollInterval time.Duration
}

var _ Queue = (*MongoQueue)(nil)

type mongoTaskDoc struct {
	// ID is a document key; requeued tasks keep their Task.ID in the payload.
	ID         string `bson:"_id"`
	Workflow   string `bson:"workflow_name"`
	Payload    []byte `bson:"payload"`
	EnqueuedAt int64  `bson:"enqueued_at"`
	Seq        int64  `bson:"seq"`
}

// NewMongoQueue returns a queue in database dbName ("apiflow" when empty).
func NewMongoQueue(client *mongo.Client, dbName string) *MongoQueue {
	if dbName == "" {
		dbName = "apiflow"
	}
	return &MongoQueue{
		coll:         client.Database(dbName).Collection("run_tasks"),
		pollInterval: 100 * time.Millisecond,
	}
}

func (q *MongoQueue) Enqueue(ctx context.Context, t Task) error {
	if err := validate(t); err != nil {
		return err
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	payload, err := EncodeTask(t)
	if err != nil {
		return err
	}
	_, err = q.coll.InsertOne(ctx, mongoTaskDoc{
		ID:         uuid.NewString(),
		Workflow:   t.WorkflowName,
		Payload:    payload,
		EnqueuedAt: t.EnqueuedAt.UnixNano(),
		Seq:        time.Now().UnixNano(),
	})
	return err
}

// Dequeue polls until a task is available or ctx is done.
func (q *MongoQueue) Dequeue(ctx context.Context) (*Task, error) {
	opts := options.FindOneAndDelete().SetSort(bson.D{{Key: "seq", Value: 1}, {Key: "_id", Value: 1}})
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var doc mongoTaskDoc
		err := q.coll.FindOneAndDelete(ctx, bson.M{}, opts).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(q.pollInterval):
				continue
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		return DecodeTask(doc.Payload)
	}
}

func (q *MongoQueue) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := q.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0
	}
	return int(n)
}
