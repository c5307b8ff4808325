package mongo

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/samtwin/companion/internal/core/domain"
	"github.com/samtwin/companion/internal/core/ports"
)

const fieldUserID = "user_id"

// RecordStore implements ports.DocumentStore on MongoDB. Each logical
// collection is one MongoDB collection whose documents carry the owning user
// id. Server timestamps are applied with $currentDate. Live queries use a
// change stream and re-read the full result set after every change, which
// requires a replica set.
type RecordStore struct {
	db  *mongo.Database
	log zerolog.Logger
}

var _ ports.DocumentStore = (*RecordStore)(nil)

func NewRecordStore(db *mongo.Database, log zerolog.Logger) *RecordStore {
	return &RecordStore{db: db, log: log}
}

func (s *RecordStore) Watch(ctx context.Context, ref domain.CollectionRef, onSnapshot ports.SnapshotFunc, onError func(error)) (func(), error) {
	coll := s.db.Collection(ref.Collection)

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "fullDocument." + fieldUserID, Value: ref.UserID}},
			bson.D{{Key: "operationType", Value: "delete"}},
		}}}}},
	}
	cs, err := coll.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, storeError("watch "+ref.String(), err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	var stopped atomic.Bool
	var once sync.Once
	stop := func() {
		once.Do(func() {
			stopped.Store(true)
			cancel()
		})
	}

	go func() {
		defer func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer closeCancel()
			_ = cs.Close(closeCtx)
		}()

		emit := func() bool {
			docs, err := s.query(watchCtx, coll, ref)
			if stopped.Load() {
				return false
			}
			if err != nil {
				s.fail(ref, err, onError, stop)
				return false
			}
			onSnapshot(docs)
			return true
		}

		if !emit() {
			return
		}
		for cs.Next(watchCtx) {
			if !emit() {
				return
			}
		}
		if err := cs.Err(); err != nil && !stopped.Load() {
			s.fail(ref, storeError("change stream "+ref.String(), err), onError, stop)
		}
	}()

	s.log.Debug().Str("collection", ref.String()).Msg("change stream opened")
	return stop, nil
}

func (s *RecordStore) fail(ref domain.CollectionRef, err error, onError func(error), stop func()) {
	s.log.Error().Err(err).Str("collection", ref.String()).Msg("live query failed")
	stop()
	if onError != nil {
		onError(err)
	}
}

func (s *RecordStore) query(ctx context.Context, coll *mongo.Collection, ref domain.CollectionRef) ([]domain.Document, error) {
	cur, err := coll.Find(ctx, bson.M{fieldUserID: ref.UserID}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, storeError("query "+ref.String(), err)
	}
	defer cur.Close(ctx)

	docs := make([]domain.Document, 0)
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, storeError("decode "+ref.String(), err)
		}
		docs = append(docs, toDocument(raw))
	}
	if err := cur.Err(); err != nil {
		return nil, storeError("query "+ref.String(), err)
	}
	return docs, nil
}

func (s *RecordStore) Get(ctx context.Context, ref domain.CollectionRef, id string) (domain.Document, bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.Document{}, false, nil
	}

	var raw bson.M
	err = s.db.Collection(ref.Collection).FindOne(ctx, bson.M{"_id": oid, fieldUserID: ref.UserID}).Decode(&raw)
	if err != nil {
		if storeCode(err) == domain.StoreCodeNotFound {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, storeError("get "+ref.String(), err)
	}
	return toDocument(raw), true, nil
}

// Add inserts through an upsert so that $currentDate can set server timestamps
// on the new document.
func (s *RecordStore) Add(ctx context.Context, ref domain.CollectionRef, fields map[string]any) (string, error) {
	oid := primitive.NewObjectID()
	filter := bson.M{"_id": oid, fieldUserID: ref.UserID}

	_, err := s.db.Collection(ref.Collection).UpdateOne(ctx, filter, updateDoc(fields), options.Update().SetUpsert(true))
	if err != nil {
		return "", storeError("add "+ref.String(), err)
	}
	return oid.Hex(), nil
}

func (s *RecordStore) Update(ctx context.Context, ref domain.CollectionRef, id string, fields map[string]any) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.NewStoreError(domain.StoreCodeNotFound, err)
	}

	res, err := s.db.Collection(ref.Collection).UpdateOne(ctx, bson.M{"_id": oid, fieldUserID: ref.UserID}, updateDoc(fields))
	if err != nil {
		return storeError("update "+ref.String(), err)
	}
	if res.MatchedCount == 0 {
		return storeError("update "+ref.String(), mongo.ErrNoDocuments)
	}
	return nil
}

func (s *RecordStore) Delete(ctx context.Context, ref domain.CollectionRef, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil
	}
	if _, err := s.db.Collection(ref.Collection).DeleteOne(ctx, bson.M{"_id": oid, fieldUserID: ref.UserID}); err != nil {
		return storeError("delete "+ref.String(), err)
	}
	return nil
}

// updateDoc splits fields into $set values and $currentDate server timestamps.
func updateDoc(fields map[string]any) bson.M {
	set := bson.M{}
	now := bson.M{}
	for k, v := range fields {
		if _, ok := v.(domain.ServerTimestamp); ok {
			now[k] = true
			continue
		}
		set[k] = v
	}

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(now) > 0 {
		update["$currentDate"] = now
	}
	return update
}

// toDocument converts a raw document, turning BSON dates into time.Time and
// dropping the owner field.
func toDocument(raw bson.M) domain.Document {
	doc := domain.Document{Fields: make(map[string]any, len(raw))}
	for k, v := range raw {
		switch k {
		case "_id":
			if oid, ok := v.(primitive.ObjectID); ok {
				doc.ID = oid.Hex()
			}
			continue
		case fieldUserID:
			continue
		}
		if dt, ok := v.(primitive.DateTime); ok {
			doc.Fields[k] = dt.Time().UTC()
			continue
		}
		doc.Fields[k] = v
	}
	return doc
}
