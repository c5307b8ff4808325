package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/samtwin/companion/internal/core/domain"
	"github.com/samtwin/companion/internal/infrastructure/sse"
)

// JournalService is the record sync engine as seen by the HTTP layer.
type JournalService interface {
	Projection() domain.Projection
	Lookup(id string) (domain.Record, bool)
	Create(ctx context.Context, fields domain.RecordFields) error
	Update(ctx context.Context, id string, fields domain.RecordFields) error
	Remove(ctx context.Context, id string) error
}

type JournalHandler struct {
	records JournalService
	hub     *sse.Hub
	log     zerolog.Logger
}

func NewJournalHandler(records JournalService, hub *sse.Hub, log zerolog.Logger) *JournalHandler {
	return &JournalHandler{records: records, hub: hub, log: log}
}

type journalRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type journalListResponse struct {
	Records []domain.Record `json:"records"`
	Total   int             `json:"total"`
	Seq     uint64          `json:"seq"`
}

// List returns the signed-in user's journals, newest first. The optional q
// parameter filters by title.
//
// @Summary      List journals
// @Tags         journals
// @Produce      json
// @Security     BearerAuth
// @Param        q    query     string  false  "Title filter"
// @Success      200  {object}  journalListResponse
// @Failure      401  {object}  map[string]string
// @Router       /v1/journals [get]
func (h *JournalHandler) List(c echo.Context) error {
	identity, err := ctxIdentity(c)
	if err != nil {
		return err
	}

	p := h.records.Projection()
	if p.UserID != identity.UID {
		// Subscription not open yet; nothing has been observed for this user.
		return c.JSON(http.StatusOK, journalListResponse{Records: []domain.Record{}})
	}

	records := domain.FilterByTitle(p.Records, c.QueryParam("q"))
	if records == nil {
		records = []domain.Record{}
	}
	return c.JSON(http.StatusOK, journalListResponse{Records: records, Total: len(p.Records), Seq: p.Seq})
}

// @Summary      Get a journal
// @Tags         journals
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Journal ID"
// @Success      200  {object}  domain.Record
// @Failure      404  {object}  map[string]string
// @Router       /v1/journals/{id} [get]
func (h *JournalHandler) Get(c echo.Context) error {
	identity, err := ctxIdentity(c)
	if err != nil {
		return err
	}

	if h.records.Projection().UserID != identity.UID {
		return domain.ErrNotFound
	}
	rec, ok := h.records.Lookup(c.Param("id"))
	if !ok {
		return domain.ErrNotFound
	}
	return c.JSON(http.StatusOK, rec)
}

// @Summary      Create a journal
// @Tags         journals
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      journalRequest  true  "Title and body"
// @Success      201   {object}  messageResponse
// @Failure      422   {object}  map[string]string
// @Router       /v1/journals [post]
func (h *JournalHandler) Create(c echo.Context) error {
	if _, err := ctxIdentity(c); err != nil {
		return err
	}

	var req journalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	if err := h.records.Create(c.Request().Context(), domain.RecordFields{Title: req.Title, Body: req.Body}); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, messageResponse{Message: "Journal saved"})
}

// @Summary      Update a journal
// @Tags         journals
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      string          true  "Journal ID"
// @Param        body  body      journalRequest  true  "Title and body"
// @Success      200   {object}  messageResponse
// @Failure      404   {object}  map[string]string
// @Failure      422   {object}  map[string]string
// @Router       /v1/journals/{id} [put]
func (h *JournalHandler) Update(c echo.Context) error {
	if _, err := ctxIdentity(c); err != nil {
		return err
	}

	var req journalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	if err := h.records.Update(c.Request().Context(), c.Param("id"), domain.RecordFields{Title: req.Title, Body: req.Body}); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Journal updated"})
}

// @Summary      Delete a journal
// @Tags         journals
// @Security     BearerAuth
// @Param        id   path  string  true  "Journal ID"
// @Success      204
// @Router       /v1/journals/{id} [delete]
func (h *JournalHandler) Delete(c echo.Context) error {
	if _, err := ctxIdentity(c); err != nil {
		return err
	}

	if err := h.records.Remove(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Stream pushes every projection of the signed-in user as a server-sent
// event until the client disconnects or the user's session ends.
//
// @Summary      Stream journal projections
// @Tags         journals
// @Produce      text/event-stream
// @Security     BearerAuth
// @Success      200
// @Router       /v1/journals/stream [get]
func (h *JournalHandler) Stream(c echo.Context) error {
	identity, err := ctxIdentity(c)
	if err != nil {
		return err
	}

	w := c.Response()
	flusher, ok := w.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming not supported")
	}

	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := h.hub.Subscribe(identity.UID)
	defer h.hub.Unsubscribe(client)

	log := h.log.With().Str("user_id", identity.UID).Str("client_id", client.ID).Logger()
	log.Info().Msg("journal stream opened")

	ctx := c.Request().Context()
	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("journal stream closed by client")
			return nil

		case <-client.Done:
			_ = writeEvent(w, flusher, sse.Event{Type: sse.EventClosed, Data: json.RawMessage(`{}`)})
			log.Info().Msg("journal stream closed by hub")
			return nil

		case ev := <-client.Events:
			if err := writeEvent(w, flusher, ev); err != nil {
				log.Debug().Err(err).Msg("journal stream write failed")
				return nil
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", ev.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", ev.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
