package ports

import (
	"context"

	"github.com/samtwin/companion/internal/core/domain"
)

// SnapshotFunc receives the full current document set of a watched collection.
type SnapshotFunc func(docs []domain.Document)

// DocumentStore is the remote document database collaborator. Field values of
// type domain.ServerTimestamp are replaced by the store's commit time. Failures
// are *domain.StoreError values.
type DocumentStore interface {
	// Watch opens a live query. onSnapshot runs for the initial result set and
	// after every change, in the order the store emits them; onError runs once if
	// the subscription fails, after which no further callbacks are made. The
	// returned function cancels the subscription and is idempotent.
	Watch(ctx context.Context, ref domain.CollectionRef, onSnapshot SnapshotFunc, onError func(error)) (stop func(), err error)
	// Get returns the document, or found=false when it does not exist.
	Get(ctx context.Context, ref domain.CollectionRef, id string) (doc domain.Document, found bool, err error)
	Add(ctx context.Context, ref domain.CollectionRef, fields map[string]any) (id string, err error)
	Update(ctx context.Context, ref domain.CollectionRef, id string, fields map[string]any) error
	Delete(ctx context.Context, ref domain.CollectionRef, id string) error
}
