// Package mongo stores status events in a MongoDB collection.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/syntrixbase/searchindexer/internal/core/eventstore"
	"github.com/syntrixbase/searchindexer/internal/events"
	"github.com/syntrixbase/searchindexer/internal/retry"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultCollection is used when no collection name is configured.
const DefaultCollection = "status_events"

// Compile-time check that Store implements eventstore.Store
var _ eventstore.Store = (*Store)(nil)

type document struct {
	ID         string              `bson:"_id"`
	Event      events.Event        `bson:",inline"`
	State      string              `bson:"state"`
	Inserted   primitive.ObjectID  `bson:"ins"`
	LastUpdate *events.StateUpdate `bson:"upd,omitempty"`
}

func (d document) toStored() events.StoredEvent {
	ev := d.Event
	ev.Timestamp = ev.Timestamp.UTC()
	return events.StoredEvent{
		Event:      ev,
		ID:         events.EventID(d.ID),
		State:      events.ProcessingState(d.State),
		LastUpdate: d.LastUpdate,
	}
}

// Store is a MongoDB backed event store.
type Store struct {
	client    *mongo.Client
	coll      *mongo.Collection
	ownClient bool
}

// Connect opens a client for uri and returns a store on dbName.collection.
// The returned store disconnects the client on Close.
func Connect(ctx context.Context, uri, dbName, collection string) (*Store, error) {
	clientOpts := options.Client().ApplyURI(uri)

	if clientOpts.ConnectTimeout == nil {
		clientOpts.SetConnectTimeout(10 * time.Second)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}

	s := New(client.Database(dbName), collection)
	s.client = client
	s.ownClient = true
	if err := s.EnsureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// New returns a store on an existing database handle. The caller owns the
// client.
func New(db *mongo.Database, collection string) *Store {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Store{
		client: db.Client(),
		coll:   db.Collection(collection),
	}
}

// EnsureIndexes creates the index GetByState relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "state", Value: 1}, {Key: "time", Value: 1}, {Key: "ins", Value: 1}},
	})
	return err
}

func (s *Store) Store(ctx context.Context, id events.EventID, ev events.Event, state events.ProcessingState) (events.StoredEvent, error) {
	if err := eventstore.CheckStore(ev, state); err != nil {
		return events.StoredEvent{}, err
	}
	id = eventstore.IDOrNew(id)
	ev.Timestamp = ev.Timestamp.UTC()

	doc := document{
		ID:       string(id),
		Event:    ev,
		State:    string(state),
		Inserted: primitive.NewObjectID(),
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return events.StoredEvent{}, eventstore.ErrDuplicateEvent
		}
		return events.StoredEvent{}, classify(fmt.Errorf("insert event %s: %w", id, err))
	}
	return events.StoredEvent{Event: ev, ID: id, State: state}, nil
}

func (s *Store) GetByState(ctx context.Context, state events.ProcessingState, limit int) ([]events.StoredEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "time", Value: 1}, {Key: "ins", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := s.coll.Find(ctx, bson.M{"state": string(state)}, opts)
	if err != nil {
		return nil, classify(fmt.Errorf("find events in state %s: %w", state, err))
	}
	defer cur.Close(ctx)

	var out []events.StoredEvent
	for cur.Next(ctx) {
		var doc document
		if err := cur.Decode(&doc); err != nil {
			return nil, retry.Fatal(fmt.Errorf("decode event: %w", err))
		}
		out = append(out, doc.toStored())
	}
	if err := cur.Err(); err != nil {
		return nil, classify(fmt.Errorf("iterate events in state %s: %w", state, err))
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id events.EventID) (events.StoredEvent, error) {
	var doc document
	err := s.coll.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return events.StoredEvent{}, eventstore.ErrEventNotFound
		}
		return events.StoredEvent{}, classify(fmt.Errorf("get event %s: %w", id, err))
	}
	return doc.toStored(), nil
}

func (s *Store) SetProcessingState(ctx context.Context, id events.EventID, expected, next events.ProcessingState, note string) (bool, error) {
	if err := eventstore.CheckTransition(id, expected, next); err != nil {
		return false, err
	}
	update := bson.M{"$set": bson.M{
		"state": string(next),
		"upd":   events.StateUpdate{Time: time.Now().UTC(), Note: note},
	}}
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": string(id), "state": string(expected)}, update)
	if err != nil {
		return false, classify(fmt.Errorf("update event %s: %w", id, err))
	}
	return res.ModifiedCount == 1, nil
}

func (s *Store) Close(ctx context.Context) error {
	if s.ownClient {
		return s.client.Disconnect(ctx)
	}
	return nil
}

// classify marks network failures, timeouts and server errors labelled as
// transient as retriable. Everything else is fatal.
func classify(err error) error {
	if isTransient(err) {
		return retry.Retriable(err)
	}
	return retry.Fatal(err)
}

func isTransient(err error) bool {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		return se.HasErrorLabel("RetryableWriteError") || se.HasErrorLabel("TransientTransactionError")
	}
	return false
}
