package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/samtwin/companion/internal/core/domain"
	"github.com/samtwin/companion/internal/core/ports"
	"github.com/samtwin/companion/internal/metrics"
)

// RecordSyncEngine maintains the live, sorted projection of the signed-in
// user's journal collection and writes changes through to the document store.
//
// Writes are never applied locally: the projection only changes when the
// store delivers a new snapshot. Concurrent writers are last-write-wins.
type RecordSyncEngine struct {
	store      ports.DocumentStore
	session    ports.SessionSource
	collection string
	log        zerolog.Logger
	validate   *validator.Validate

	onProjection func(domain.Projection)
	onError      func(error)

	mu         sync.Mutex
	sub        *subscription
	projection domain.Projection
}

// EngineOption configures a RecordSyncEngine.
type EngineOption func(*RecordSyncEngine)

// WithProjectionListener sets the listener used by subscriptions opened
// through SyncSession.
func WithProjectionListener(fn func(domain.Projection)) EngineOption {
	return func(e *RecordSyncEngine) { e.onProjection = fn }
}

// WithErrorHandler sets the handler for live subscription failures.
func WithErrorHandler(fn func(error)) EngineOption {
	return func(e *RecordSyncEngine) { e.onError = fn }
}

func NewRecordSyncEngine(store ports.DocumentStore, session ports.SessionSource, collection string, log zerolog.Logger, opts ...EngineOption) *RecordSyncEngine {
	if collection == "" {
		collection = "journals"
	}
	e := &RecordSyncEngine{
		store:      store,
		session:    session,
		collection: collection,
		log:        log,
		validate:   validator.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// subscription is one live query. deliverMu orders snapshot delivery against
// cancellation: once cancel returns, onChange is never called again.
type subscription struct {
	engine   *RecordSyncEngine
	uid      string
	ref      domain.CollectionRef
	onChange func(domain.Projection)

	deliverMu sync.Mutex
	stopped   bool
	stopStore func()
	seq       uint64

	once sync.Once
}

// Open starts the live subscription for uid, replacing any open one. It
// returns the initial (empty) projection and an idempotent unsubscribe
// function. onChange must not call unsubscribe.
func (e *RecordSyncEngine) Open(ctx context.Context, uid string, onChange func(domain.Projection)) (domain.Projection, func(), error) {
	if e.store == nil {
		return domain.Projection{}, nil, domain.ErrNotInitialized
	}
	if uid == "" || !e.session.State().IsUser(uid) {
		return domain.Projection{}, nil, domain.ErrNotAuthenticated
	}

	sub := &subscription{
		engine:   e,
		uid:      uid,
		ref:      domain.CollectionRef{UserID: uid, Collection: e.collection},
		onChange: onChange,
	}
	initial := domain.Projection{UserID: uid, Records: []domain.Record{}}

	e.mu.Lock()
	prev := e.sub
	e.sub = sub
	e.projection = initial
	e.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}

	stop, err := e.store.Watch(ctx, sub.ref, sub.deliver, sub.fail)
	if err != nil {
		sub.cancel()
		serr := classify(err)
		e.log.Error().Err(err).Str("user_id", uid).Msg("failed to open journal subscription")
		return domain.Projection{}, nil, serr
	}
	sub.attach(stop)

	e.log.Info().Str("user_id", uid).Str("collection", sub.ref.String()).Msg("journal subscription opened")
	return initial, sub.cancel, nil
}

// Projection returns a copy of the current projection. It is empty while the
// projection belongs to an identity other than the signed-in one.
func (e *RecordSyncEngine) Projection() domain.Projection {
	st := e.session.State()

	e.mu.Lock()
	defer e.mu.Unlock()
	if !st.IsUser(e.projection.UserID) {
		return domain.Projection{Records: []domain.Record{}}
	}
	p := e.projection
	p.Records = append([]domain.Record(nil), e.projection.Records...)
	return p
}

// Lookup returns a record of the current projection, used to prefill edits.
// Records of a previous identity are never returned.
func (e *RecordSyncEngine) Lookup(id string) (domain.Record, bool) {
	st := e.session.State()

	e.mu.Lock()
	defer e.mu.Unlock()
	if !st.IsUser(e.projection.UserID) {
		return domain.Record{}, false
	}
	return e.projection.Lookup(id)
}

// SyncSession makes the subscription follow the current session: it is torn
// down on sign-out or identity change and opened for the new identity.
func (e *RecordSyncEngine) SyncSession(ctx context.Context) error {
	st := e.session.State()
	if st.Initializing {
		return nil
	}

	e.mu.Lock()
	sub := e.sub
	e.mu.Unlock()

	if sub != nil && st.IsUser(sub.uid) {
		return nil
	}
	if sub != nil {
		sub.cancel()
		e.log.Info().Str("user_id", sub.uid).Msg("journal subscription closed, session changed")
	}
	if !st.Authenticated() {
		return nil
	}

	_, _, err := e.Open(ctx, st.UserID, e.onProjection)
	return err
}

// Close tears down the open subscription, if any. It is idempotent.
func (e *RecordSyncEngine) Close() {
	e.mu.Lock()
	sub := e.sub
	e.mu.Unlock()
	if sub != nil {
		sub.cancel()
	}
}

// Create validates fields and adds a new record with server timestamps.
func (e *RecordSyncEngine) Create(ctx context.Context, fields domain.RecordFields) (err error) {
	defer e.track("create", &err)()

	fields, err = e.validateFields(fields)
	if err != nil {
		return err
	}
	ref, err := e.guard()
	if err != nil {
		return err
	}

	_, err = e.store.Add(ctx, ref, map[string]any{
		domain.FieldTitle:     fields.Title,
		domain.FieldBody:      fields.Body,
		domain.FieldCreatedAt: domain.ServerTimestamp{},
		domain.FieldUpdatedAt: domain.ServerTimestamp{},
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// Update overwrites title and body of an existing record and refreshes its
// update timestamp.
func (e *RecordSyncEngine) Update(ctx context.Context, id string, fields domain.RecordFields) (err error) {
	defer e.track("update", &err)()

	fields, err = e.validateFields(fields)
	if err != nil {
		return err
	}
	ref, err := e.guard()
	if err != nil {
		return err
	}
	if err = e.mustExist(ctx, ref, id); err != nil {
		return err
	}

	err = e.store.Update(ctx, ref, id, map[string]any{
		domain.FieldTitle:     fields.Title,
		domain.FieldBody:      fields.Body,
		domain.FieldUpdatedAt: domain.ServerTimestamp{},
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// Remove deletes an existing record.
func (e *RecordSyncEngine) Remove(ctx context.Context, id string) (err error) {
	defer e.track("remove", &err)()

	ref, err := e.guard()
	if err != nil {
		return err
	}
	if err = e.mustExist(ctx, ref, id); err != nil {
		return err
	}
	if err = e.store.Delete(ctx, ref, id); err != nil {
		return classify(err)
	}
	return nil
}

func (e *RecordSyncEngine) validateFields(fields domain.RecordFields) (domain.RecordFields, error) {
	fields = fields.Trimmed()
	if err := e.validate.Struct(fields); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fields, domain.WrapSyncError(domain.CodeUnknown, err.Error(), err)
		}
		details := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			switch fe.Field() {
			case "Title":
				details["title"] = "Title is required"
			case "Body":
				details["body"] = "Content is required"
			}
		}
		return fields, domain.ValidationError(details)
	}
	return fields, nil
}

// guard checks the store and the session before a write. A subscription
// opened for another identity is torn down so no stale data outlives the
// session, and the loss is reported to the error handler.
func (e *RecordSyncEngine) guard() (domain.CollectionRef, error) {
	if e.store == nil {
		return domain.CollectionRef{}, domain.ErrNotInitialized
	}
	st := e.session.State()

	e.mu.Lock()
	sub := e.sub
	e.mu.Unlock()

	if sub != nil && !st.IsUser(sub.uid) {
		sub.cancel()
		err := domain.SessionMismatch()
		if !st.Authenticated() {
			err = domain.ErrNotAuthenticated
		}
		e.log.Warn().Str("user_id", sub.uid).Str("code", string(err.Code)).Msg("journal subscription closed, session no longer matches")
		if e.onError != nil {
			e.onError(err)
		}
		return domain.CollectionRef{}, err
	}
	if !st.Authenticated() {
		return domain.CollectionRef{}, domain.NewSyncError(domain.CodeNotAuthenticated, "you must be logged in to save journals")
	}
	return domain.CollectionRef{UserID: st.UserID, Collection: e.collection}, nil
}

func (e *RecordSyncEngine) mustExist(ctx context.Context, ref domain.CollectionRef, id string) error {
	if id == "" {
		return domain.ErrNotFound
	}
	_, found, err := e.store.Get(ctx, ref, id)
	if err != nil {
		return classify(err)
	}
	if !found {
		return domain.ErrNotFound
	}
	return nil
}

// track records metrics and logs for one write operation.
func (e *RecordSyncEngine) track(op string, errp *error) func() {
	metrics.RecordOpsInFlight.Inc()
	return func() {
		metrics.RecordOpsInFlight.Dec()
		result := "ok"
		if *errp != nil {
			result = string(domain.Code(*errp))
			e.log.Warn().Err(*errp).Str("op", op).Msg("journal write failed")
		}
		metrics.RecordOpsTotal.WithLabelValues(op, result).Inc()
	}
}

func (s *subscription) attach(stop func()) {
	s.deliverMu.Lock()
	stopped := s.stopped
	if !stopped {
		s.stopStore = stop
	}
	s.deliverMu.Unlock()
	if stopped {
		stop()
	}
}

func (s *subscription) deliver(docs []domain.Document) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.stopped {
		return
	}
	e := s.engine
	if !e.session.State().IsUser(s.uid) {
		e.log.Debug().Str("user_id", s.uid).Msg("snapshot dropped, session no longer matches")
		return
	}

	start := time.Now()
	records := make([]domain.Record, 0, len(docs))
	for _, doc := range docs {
		records = append(records, domain.RecordFromDocument(doc))
	}
	domain.SortRecords(records)
	s.seq++
	p := domain.Projection{UserID: s.uid, Records: records, Seq: s.seq}
	metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	metrics.SnapshotsTotal.Inc()

	e.mu.Lock()
	current := e.sub == s
	if current {
		e.projection = p
	}
	e.mu.Unlock()
	if !current {
		return
	}

	if s.onChange != nil {
		out := p
		out.Records = append([]domain.Record(nil), records...)
		s.onChange(out)
	}
}

func (s *subscription) fail(err error) {
	serr := classify(err)
	s.deliverMu.Lock()
	stopped := s.stopped
	s.deliverMu.Unlock()
	if stopped {
		return
	}

	e := s.engine
	e.log.Error().Err(err).Str("user_id", s.uid).Str("code", string(serr.Code)).Msg("journal subscription failed")
	s.cancel()
	if e.onError != nil {
		e.onError(serr)
	}
}

// cancel stops delivery, cancels the store query and clears the projection
// if this is still the engine's subscription. Safe to call repeatedly.
func (s *subscription) cancel() {
	s.once.Do(func() {
		s.deliverMu.Lock()
		s.stopped = true
		stop := s.stopStore
		s.deliverMu.Unlock()

		if stop != nil {
			stop()
		}

		e := s.engine
		e.mu.Lock()
		if e.sub == s {
			e.sub = nil
			e.projection = domain.Projection{Records: []domain.Record{}}
		}
		e.mu.Unlock()
	})
}

// classify maps any store failure to a *domain.SyncError.
func classify(err error) *domain.SyncError {
	var serr *domain.SyncError
	if errors.As(err, &serr) {
		return serr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.WrapSyncError(domain.CodeUnavailable, "document store is unavailable, please check your connection", err)
	}
	switch domain.StoreErrorCode(err) {
	case domain.StoreCodePermissionDenied:
		return domain.WrapSyncError(domain.CodePermissionDenied, "permission denied, please check the store access rules", err)
	case domain.StoreCodeUnavailable:
		return domain.WrapSyncError(domain.CodeUnavailable, "document store is unavailable, please check your connection", err)
	case domain.StoreCodeNotFound:
		return domain.WrapSyncError(domain.CodeNotFound, domain.ErrNotFound.Message, err)
	default:
		return domain.WrapSyncError(domain.CodeUnknown, err.Error(), err)
	}
}
