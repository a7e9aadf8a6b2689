package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sedproject/sed/pkg/wire"
)

func TestParseSince(t *testing.T) {
	since, err := parseSince(wire.Wildcard)
	require.NoError(t, err)
	assert.Zero(t, since)

	since, err = parseSince("2010-06-09T15:20:00-07:00")
	require.NoError(t, err)
	assert.Equal(t, int64(1276122000), since)

	_, err = parseSince("last tuesday")
	assert.Error(t, err)
}

// storeEvent seeds the document store with one historical event.
func storeEvent(t *testing.T, store *memStore, eventType string, ts int64) {
	t.Helper()
	ev := wire.Event{
		Consistency:  wire.Consistency{Key: "k", Value: wire.Explicit(0)},
		Data:         json.RawMessage(`{}`),
		EventType:    eventType,
		Sender:       "127.0.0.1:4000",
		TimestampRaw: ts,
	}
	id, err := wire.HashJSON(ev)
	require.NoError(t, err)
	require.NoError(t, store.SaveEvent(context.Background(), id, ev))
}

// awaitRebuild waits for the query goroutine to answer.
func awaitRebuild(t *testing.T, client *fakeClient) wire.Rebuild {
	t.Helper()
	var rebuild wire.Rebuild
	require.Eventually(t, func() bool {
		for _, v := range client.Sent() {
			if r, ok := v.(wire.Rebuild); ok {
				rebuild = r
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	return rebuild
}

func TestQueryReturnsMatchingEventsInOrder(t *testing.T) {
	b, store, _ := newTestBus(t)
	client := addSession(t, b, "10.0.0.1:1000", "")

	storeEvent(t, store, "deposit", 300)
	storeEvent(t, store, "deposit", 100)
	storeEvent(t, store, "withdrawal", 200)
	storeEvent(t, store, "login", 400)

	b.handle(context.Background(), Query{Client: client, Frame: wire.Query{
		MessageType: wire.TypeQuery,
		EventTypes:  []string{"deposit", "withdrawal"},
		Since:       wire.Wildcard,
	}})

	rebuild := awaitRebuild(t, client)
	assert.Equal(t, wire.TypeRebuild, rebuild.MessageType)
	require.Len(t, rebuild.Events, 3)
	assert.Equal(t, int64(100), rebuild.Events[0].TimestampRaw)
	assert.Equal(t, int64(200), rebuild.Events[1].TimestampRaw)
	assert.Equal(t, int64(300), rebuild.Events[2].TimestampRaw)
	for _, ev := range rebuild.Events {
		assert.Equal(t, wire.TypeRebuild, ev.MessageType)
	}
}

func TestQuerySinceExcludesOlderEvents(t *testing.T) {
	b, store, _ := newTestBus(t)
	client := addSession(t, b, "10.0.0.1:1000", "")

	cutoff := time.Date(2010, 6, 9, 22, 20, 0, 0, time.UTC)
	storeEvent(t, store, "deposit", cutoff.Unix()-1)
	storeEvent(t, store, "deposit", cutoff.Unix())
	storeEvent(t, store, "deposit", cutoff.Unix()+1)

	b.handle(context.Background(), Query{Client: client, Frame: wire.Query{
		MessageType: wire.TypeQuery,
		EventTypes:  []string{"deposit"},
		Since:       cutoff.Format(time.RFC3339),
	}})

	rebuild := awaitRebuild(t, client)
	require.Len(t, rebuild.Events, 1)
	assert.Equal(t, cutoff.Unix()+1, rebuild.Events[0].TimestampRaw)
}

func TestQueryWildcardTypeMatchesEverything(t *testing.T) {
	b, store, _ := newTestBus(t)
	client := addSession(t, b, "10.0.0.1:1000", "")

	storeEvent(t, store, "deposit", 100)
	storeEvent(t, store, "login", 200)

	b.handle(context.Background(), Query{Client: client, Frame: wire.Query{
		MessageType: wire.TypeQuery,
		EventTypes:  []string{wire.Wildcard},
		Since:       wire.Wildcard,
	}})

	rebuild := awaitRebuild(t, client)
	assert.Len(t, rebuild.Events, 2)
}

func TestQueryWithNoMatchesSendsEmptyRebuild(t *testing.T) {
	b, _, _ := newTestBus(t)
	client := addSession(t, b, "10.0.0.1:1000", "")

	b.handle(context.Background(), Query{Client: client, Frame: wire.Query{
		MessageType: wire.TypeQuery,
		EventTypes:  []string{"deposit"},
		Since:       wire.Wildcard,
	}})

	rebuild := awaitRebuild(t, client)
	assert.NotNil(t, rebuild.Events)
	assert.Empty(t, rebuild.Events)
}
