package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/samtwin/companion/internal/api/middleware"
	"github.com/samtwin/companion/internal/core/domain"
	"github.com/samtwin/companion/internal/infrastructure/sse"
)

type stubJournals struct {
	projection domain.Projection
	created    []domain.RecordFields
	updated    map[string]domain.RecordFields
	removed    []string
	err        error
}

func (s *stubJournals) Projection() domain.Projection { return s.projection }

func (s *stubJournals) Lookup(id string) (domain.Record, bool) { return s.projection.Lookup(id) }

func (s *stubJournals) Create(_ context.Context, f domain.RecordFields) error {
	s.created = append(s.created, f)
	return s.err
}

func (s *stubJournals) Update(_ context.Context, id string, f domain.RecordFields) error {
	if s.updated == nil {
		s.updated = make(map[string]domain.RecordFields)
	}
	s.updated[id] = f
	return s.err
}

func (s *stubJournals) Remove(_ context.Context, id string) error {
	s.removed = append(s.removed, id)
	return s.err
}

var sam = &domain.Identity{UID: "u-sam", Email: "sam@example.com"}

func authedContext(e *echo.Echo, req *http.Request, rec *httptest.ResponseRecorder) echo.Context {
	c := e.NewContext(req, rec)
	c.Set(middleware.IdentityKey, sam)
	return c
}

func samProjection() domain.Projection {
	return domain.Projection{
		UserID: "u-sam",
		Seq:    4,
		Records: []domain.Record{
			{ID: "b", Title: "Morning walk", Body: "..."},
			{ID: "a", Title: "Gratitude", Body: "..."},
		},
	}
}

func TestJournalHandler_List_FiltersByTitle(t *testing.T) {
	e := echo.New()
	handler := NewJournalHandler(&stubJournals{projection: samProjection()}, sse.NewHub(zerolog.Nop()), zerolog.Nop())

	rec := httptest.NewRecorder()
	c := authedContext(e, httptest.NewRequest(http.MethodGet, "/v1/journals?q=WALK", nil), rec)

	if err := handler.List(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var resp journalListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(resp.Records) != 1 || resp.Records[0].ID != "b" {
		t.Fatalf("expected only the walk entry, got %+v", resp.Records)
	}
	if resp.Total != 2 || resp.Seq != 4 {
		t.Fatalf("unexpected totals: %+v", resp)
	}
}

func TestJournalHandler_List_OtherUsersProjectionIsHidden(t *testing.T) {
	e := echo.New()
	p := samProjection()
	p.UserID = "u-other"
	handler := NewJournalHandler(&stubJournals{projection: p}, sse.NewHub(zerolog.Nop()), zerolog.Nop())

	rec := httptest.NewRecorder()
	c := authedContext(e, httptest.NewRequest(http.MethodGet, "/v1/journals", nil), rec)

	if err := handler.List(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"records":[]`) {
		t.Fatalf("expected empty list, got %s", rec.Body.String())
	}
}

func TestJournalHandler_RequiresIdentity(t *testing.T) {
	e := echo.New()
	handler := NewJournalHandler(&stubJournals{}, sse.NewHub(zerolog.Nop()), zerolog.Nop())

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/v1/journals", nil), httptest.NewRecorder())

	err := handler.List(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestJournalHandler_GetMissingIsNotFound(t *testing.T) {
	e := echo.New()
	handler := NewJournalHandler(&stubJournals{projection: samProjection()}, sse.NewHub(zerolog.Nop()), zerolog.Nop())

	c := authedContext(e, httptest.NewRequest(http.MethodGet, "/v1/journals/zzz", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("zzz")

	if err := handler.Get(c); domain.Code(err) != domain.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestJournalHandler_GetReturnsOwnRecord(t *testing.T) {
	e := echo.New()
	handler := NewJournalHandler(&stubJournals{projection: samProjection()}, sse.NewHub(zerolog.Nop()), zerolog.Nop())

	rec := httptest.NewRecorder()
	c := authedContext(e, httptest.NewRequest(http.MethodGet, "/v1/journals/a", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues("a")

	if err := handler.Get(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var got domain.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "a" || got.Title != "Gratitude" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestJournalHandler_GetHidesOtherUsersRecords(t *testing.T) {
	e := echo.New()
	other := samProjection()
	other.UserID = "u-alex"
	handler := NewJournalHandler(&stubJournals{projection: other}, sse.NewHub(zerolog.Nop()), zerolog.Nop())

	rec := httptest.NewRecorder()
	c := authedContext(e, httptest.NewRequest(http.MethodGet, "/v1/journals/a", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues("a")

	if err := handler.Get(c); domain.Code(err) != domain.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("record of another user written: %s", rec.Body.String())
	}
}

func TestJournalHandler_Writes(t *testing.T) {
	e := echo.New()
	journals := &stubJournals{}
	handler := NewJournalHandler(journals, sse.NewHub(zerolog.Nop()), zerolog.Nop())

	rec := httptest.NewRecorder()
	c := authedContext(e, jsonRequest(http.MethodPost, "/v1/journals", `{"title":"T","body":"B"}`), rec)
	if err := handler.Create(c); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Code != http.StatusCreated || len(journals.created) != 1 || journals.created[0].Body != "B" {
		t.Fatalf("unexpected create: %d %+v", rec.Code, journals.created)
	}

	rec = httptest.NewRecorder()
	c = authedContext(e, jsonRequest(http.MethodPut, "/v1/journals/a", `{"title":"T2","body":"B2"}`), rec)
	c.SetParamNames("id")
	c.SetParamValues("a")
	if err := handler.Update(c); err != nil {
		t.Fatalf("update: %v", err)
	}
	if journals.updated["a"].Title != "T2" {
		t.Fatalf("unexpected update: %+v", journals.updated)
	}

	rec = httptest.NewRecorder()
	c = authedContext(e, httptest.NewRequest(http.MethodDelete, "/v1/journals/a", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues("a")
	if err := handler.Delete(c); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rec.Code != http.StatusNoContent || len(journals.removed) != 1 {
		t.Fatalf("unexpected delete: %d %+v", rec.Code, journals.removed)
	}
}

func TestJournalHandler_WriteErrorIsReturned(t *testing.T) {
	e := echo.New()
	journals := &stubJournals{err: domain.ValidationError(map[string]string{"title": "Title is required"})}
	handler := NewJournalHandler(journals, sse.NewHub(zerolog.Nop()), zerolog.Nop())

	c := authedContext(e, jsonRequest(http.MethodPost, "/v1/journals", `{"title":"","body":"B"}`), httptest.NewRecorder())

	if err := handler.Create(c); domain.Code(err) != domain.CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestJournalHandler_StreamReplaysLatestProjection(t *testing.T) {
	e := echo.New()
	hub := sse.NewHub(zerolog.Nop())
	hub.Publish(samProjection())
	handler := NewJournalHandler(&stubJournals{}, hub, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/v1/journals/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	c := authedContext(e, req, rec)

	if err := handler.Stream(c); err != nil {
		t.Fatalf("stream: %v", err)
	}

	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: projection\n") || !strings.Contains(body, `"Morning walk"`) {
		t.Fatalf("expected replayed projection, got %q", body)
	}
	if hub.ClientCount("u-sam") != 0 {
		t.Fatalf("client should be unsubscribed after the stream ends")
	}
}

func TestJournalHandler_StreamEndsWhenSessionCloses(t *testing.T) {
	e := echo.New()
	hub := sse.NewHub(zerolog.Nop())
	handler := NewJournalHandler(&stubJournals{}, hub, zerolog.Nop())

	rec := httptest.NewRecorder()
	c := authedContext(e, httptest.NewRequest(http.MethodGet, "/v1/journals/stream", nil), rec)

	done := make(chan error, 1)
	go func() { done <- handler.Stream(c) }()

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount("u-sam") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	hub.CloseUser("u-sam")

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("stream did not end after CloseUser")
	}
	if !strings.Contains(rec.Body.String(), "event: closed\n") {
		t.Fatalf("expected closed event, got %q", rec.Body.String())
	}
}
