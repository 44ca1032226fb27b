// v2
// internal/store/mongo.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"homemon/internal/reading"
)

type mongoReading struct {
	ID       primitive.ObjectID `bson:"_id"`
	Datetime time.Time          `bson:"datetime"`
	RawValue int64              `bson:"rawvalue"`
	Voltage  float64            `bson:"voltage"`
	Pressure float64            `bson:"pressure"`
	Seq      int64              `bson:"seq"`
}

func (m mongoReading) stored() Stored {
	return Stored{
		ID: m.ID.Hex(),
		Reading: reading.Reading{
			Timestamp: m.Datetime.UTC(),
			RawValue:  m.RawValue,
			Voltage:   m.Voltage,
			Pressure:  m.Pressure,
		},
	}
}

// seq comes from a shared counter document, so it orders inserts across
// every process writing the collection and breaks timestamp ties.
var (
	newestFirst = bson.D{{Key: "datetime", Value: -1}, {Key: "seq", Value: -1}}
	oldestFirst = bson.D{{Key: "datetime", Value: 1}, {Key: "seq", Value: 1}}
)

const countersCollection = "counters"

// Mongo stores readings in a MongoDB collection.
type Mongo struct {
	client     *mongo.Client
	collection *mongo.Collection
	counters   *mongo.Collection
	now        func() time.Time
}

func newMongo(client *mongo.Client, coll, counters *mongo.Collection) *Mongo {
	return &Mongo{client: client, collection: coll, counters: counters, now: time.Now}
}

// NewMongo connects, pings the primary and ensures the ordering index.
func NewMongo(ctx context.Context, uri, database, collection string) (*Mongo, error) {
	if uri == "" {
		return nil, fmt.Errorf("store: mongo uri is required")
	}
	if database == "" {
		database = "homemon"
	}
	if collection == "" {
		collection = "monitor_readings"
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, unavailable("connect", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, unavailable("ping", err)
	}
	db := client.Database(database)
	coll := db.Collection(collection)
	if _, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: newestFirst}); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, unavailable("create index", err)
	}
	return newMongo(client, coll, db.Collection(countersCollection)), nil
}

// nextSeq atomically increments the per-collection insertion counter.
func (m *Mongo) nextSeq(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := m.counters.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: m.collection.Name()}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "seq", Value: int64(1)}}}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, err
	}
	return counter.Seq, nil
}

func betweenFilter(from, to time.Time) bson.M {
	return bson.M{"datetime": bson.M{"$gte": from.UTC(), "$lt": to.UTC()}}
}

func (m *Mongo) Insert(ctx context.Context, r reading.Reading) (Stored, error) {
	r = stamp(r, m.now)
	seq, err := m.nextSeq(ctx)
	if err != nil {
		return Stored{}, unavailable("insert sequence", err)
	}
	doc := mongoReading{
		ID: primitive.NewObjectID(),
		// BSON dates carry milliseconds.
		Datetime: r.Timestamp.Truncate(time.Millisecond),
		RawValue: r.RawValue,
		Voltage:  r.Voltage,
		Pressure: r.Pressure,
		Seq:      seq,
	}
	if _, err := m.collection.InsertOne(ctx, doc); err != nil {
		return Stored{}, unavailable("insert", err)
	}
	return doc.stored(), nil
}

func (m *Mongo) MostRecent(ctx context.Context) (Stored, bool, error) {
	var doc mongoReading
	err := m.collection.FindOne(ctx, bson.D{}, options.FindOne().SetSort(newestFirst)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Stored{}, false, nil
	}
	if err != nil {
		return Stored{}, false, unavailable("most recent", err)
	}
	return doc.stored(), true, nil
}

func (m *Mongo) Between(ctx context.Context, from, to time.Time) ([]Stored, error) {
	cur, err := m.collection.Find(ctx, betweenFilter(from, to), options.Find().SetSort(oldestFirst))
	if err != nil {
		return nil, unavailable("between", err)
	}
	var docs []mongoReading
	if err := cur.All(ctx, &docs); err != nil {
		return nil, unavailable("between", err)
	}
	out := make([]Stored, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.stored())
	}
	return out, nil
}

func (m *Mongo) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := m.collection.DeleteMany(ctx, bson.M{"datetime": bson.M{"$lt": cutoff.UTC()}})
	if err != nil {
		return 0, unavailable("prune", err)
	}
	return res.DeletedCount, nil
}

func (m *Mongo) Count(ctx context.Context) (int64, error) {
	n, err := m.collection.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
