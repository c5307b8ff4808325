// Package memory provides in-process implementations of the document store and
// identity provider repositories. They back the "memory" store driver and the
// tests of the synchronization core.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/samtwin/companion/internal/core/domain"
	"github.com/samtwin/companion/internal/core/ports"
	"github.com/samtwin/companion/internal/infrastructure/queue"
)

type collection struct {
	order []string // insertion order
	docs  map[string]map[string]any
}

type watcher struct {
	id         string
	onSnapshot ports.SnapshotFunc
	stopped    atomic.Bool
}

// RecordStore is an in-memory ports.DocumentStore. Snapshots are delivered
// asynchronously through the dispatcher, one watcher at a time, in mutation
// order.
type RecordStore struct {
	dispatcher *queue.Dispatcher
	now        func() time.Time

	mu          sync.Mutex
	collections map[string]*collection
	watchers    map[string]map[string]*watcher
}

var _ ports.DocumentStore = (*RecordStore)(nil)

// NewRecordStore returns an empty store. now supplies server timestamps; nil
// means time.Now. The dispatcher must be started by the caller.
func NewRecordStore(dispatcher *queue.Dispatcher, now func() time.Time) *RecordStore {
	if now == nil {
		now = time.Now
	}
	return &RecordStore{
		dispatcher:  dispatcher,
		now:         now,
		collections: make(map[string]*collection),
		watchers:    make(map[string]map[string]*watcher),
	}
}

func (s *RecordStore) Watch(ctx context.Context, ref domain.CollectionRef, onSnapshot ports.SnapshotFunc, _ func(error)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewStoreError(domain.StoreCodeUnavailable, err)
	}
	key := ref.String()
	w := &watcher{id: uuid.NewString(), onSnapshot: onSnapshot}

	s.mu.Lock()
	if s.watchers[key] == nil {
		s.watchers[key] = make(map[string]*watcher)
	}
	s.watchers[key][w.id] = w
	s.deliverLocked(w, s.snapshotLocked(key))
	s.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			w.stopped.Store(true)
			s.mu.Lock()
			delete(s.watchers[key], w.id)
			if len(s.watchers[key]) == 0 {
				delete(s.watchers, key)
			}
			s.mu.Unlock()
		})
	}
	return stop, nil
}

func (s *RecordStore) Get(ctx context.Context, ref domain.CollectionRef, id string) (domain.Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Document{}, false, domain.NewStoreError(domain.StoreCodeUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collections[ref.String()]
	if c == nil {
		return domain.Document{}, false, nil
	}
	fields, ok := c.docs[id]
	if !ok {
		return domain.Document{}, false, nil
	}
	return domain.Document{ID: id, Fields: copyFields(fields)}, true, nil
}

func (s *RecordStore) Add(ctx context.Context, ref domain.CollectionRef, fields map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", domain.NewStoreError(domain.StoreCodeUnavailable, err)
	}
	id := uuid.NewString()
	key := ref.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collections[key]
	if c == nil {
		c = &collection{docs: make(map[string]map[string]any)}
		s.collections[key] = c
	}
	c.order = append(c.order, id)
	c.docs[id] = s.resolve(fields)
	s.notifyLocked(key)
	return id, nil
}

func (s *RecordStore) Update(ctx context.Context, ref domain.CollectionRef, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return domain.NewStoreError(domain.StoreCodeUnavailable, err)
	}
	key := ref.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collections[key]
	if c == nil || c.docs[id] == nil {
		return domain.NewStoreError(domain.StoreCodeNotFound, fmt.Errorf("document %s/%s", key, id))
	}
	for k, v := range s.resolve(fields) {
		c.docs[id][k] = v
	}
	s.notifyLocked(key)
	return nil
}

func (s *RecordStore) Delete(ctx context.Context, ref domain.CollectionRef, id string) error {
	if err := ctx.Err(); err != nil {
		return domain.NewStoreError(domain.StoreCodeUnavailable, err)
	}
	key := ref.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collections[key]
	if c == nil || c.docs[id] == nil {
		return nil
	}
	delete(c.docs, id)
	for i, docID := range c.order {
		if docID == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	s.notifyLocked(key)
	return nil
}

// resolve copies fields, replacing server timestamp sentinels with the commit time.
func (s *RecordStore) resolve(fields map[string]any) map[string]any {
	now := s.now().UTC()
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if _, ok := v.(domain.ServerTimestamp); ok {
			out[k] = now
			continue
		}
		out[k] = v
	}
	return out
}

func (s *RecordStore) snapshotLocked(key string) []domain.Document {
	c := s.collections[key]
	if c == nil {
		return []domain.Document{}
	}
	docs := make([]domain.Document, 0, len(c.order))
	for _, id := range c.order {
		docs = append(docs, domain.Document{ID: id, Fields: copyFields(c.docs[id])})
	}
	return docs
}

func (s *RecordStore) notifyLocked(key string) {
	watchers := s.watchers[key]
	if len(watchers) == 0 {
		return
	}
	snapshot := s.snapshotLocked(key)
	for _, w := range watchers {
		s.deliverLocked(w, snapshot)
	}
}

func (s *RecordStore) deliverLocked(w *watcher, docs []domain.Document) {
	s.dispatcher.Dispatch(w.id, func(context.Context) {
		if w.stopped.Load() {
			return
		}
		w.onSnapshot(docs)
	})
}

func copyFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
