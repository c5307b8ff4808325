package sse

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samtwin/companion/internal/core/domain"
)

func decode(t *testing.T, ev Event) domain.Projection {
	t.Helper()
	require.Equal(t, EventProjection, ev.Type)
	var p domain.Projection
	require.NoError(t, json.Unmarshal(ev.Data, &p))
	return p
}

func TestHub_PublishReachesUserClientsOnly(t *testing.T) {
	h := NewHub(zerolog.Nop())
	mine := h.Subscribe("u1")
	other := h.Subscribe("u2")

	h.Publish(domain.Projection{UserID: "u1", Records: []domain.Record{{ID: "a", Title: "T"}}, Seq: 1})

	p := decode(t, <-mine.Events)
	assert.Equal(t, "u1", p.UserID)
	require.Len(t, p.Records, 1)
	assert.Equal(t, "T", p.Records[0].Title)
	assert.Empty(t, other.Events)
}

func TestHub_SubscribeReplaysLatest(t *testing.T) {
	h := NewHub(zerolog.Nop())
	h.Publish(domain.Projection{UserID: "u1", Seq: 1})
	h.Publish(domain.Projection{UserID: "u1", Seq: 2})

	c := h.Subscribe("u1")
	require.Len(t, c.Events, 1)
	assert.Equal(t, uint64(2), decode(t, <-c.Events).Seq)
}

func TestHub_SlowClientKeepsNewest(t *testing.T) {
	h := NewHub(zerolog.Nop())
	c := h.Subscribe("u1")

	for i := 1; i <= clientBuffer+5; i++ {
		h.Publish(domain.Projection{UserID: "u1", Seq: uint64(i)})
	}

	var last uint64
	for len(c.Events) > 0 {
		last = decode(t, <-c.Events).Seq
	}
	assert.Equal(t, uint64(clientBuffer+5), last)
}

func TestHub_CloseUserDisconnects(t *testing.T) {
	h := NewHub(zerolog.Nop())
	c := h.Subscribe("u1")
	h.Publish(domain.Projection{UserID: "u1", Seq: 1})

	h.CloseUser("u1")

	select {
	case <-c.Done:
	default:
		t.Fatal("client not disconnected")
	}
	assert.Equal(t, 0, h.ClientCount("u1"))

	// Unsubscribe after a forced disconnect is a no-op.
	h.Unsubscribe(c)

	fresh := h.Subscribe("u1")
	assert.Empty(t, fresh.Events, "latest projection must be forgotten")
}

func TestHub_IgnoresLateProjectionAfterClose(t *testing.T) {
	h := NewHub(zerolog.Nop())
	h.Publish(domain.Projection{UserID: "u1", Seq: 1})
	h.CloseUser("u1")

	// A snapshot already in flight when the session ended.
	h.Publish(domain.Projection{UserID: "u1", Seq: 2})
	assert.Empty(t, h.Subscribe("u1").Events, "late projection must not be replayed")
}

func TestHub_OpenUserAcceptsProjectionsAgain(t *testing.T) {
	h := NewHub(zerolog.Nop())
	h.CloseUser("u1")
	h.Publish(domain.Projection{UserID: "u1", Seq: 1})

	h.OpenUser("u1")
	h.Publish(domain.Projection{UserID: "u1", Seq: 2})

	c := h.Subscribe("u1")
	require.Len(t, c.Events, 1)
	assert.Equal(t, uint64(2), decode(t, <-c.Events).Seq)
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	h := NewHub(zerolog.Nop())
	c := h.Subscribe("u1")
	h.Unsubscribe(c)
	h.Unsubscribe(c)
	assert.Equal(t, 0, h.ClientCount("u1"))
}
