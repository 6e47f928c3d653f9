package persistence_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/architeacher/amqp-broker/pkg/broker"
	"github.com/architeacher/amqp-broker/pkg/broker/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*persistence.Store, string) {
	t.Helper()

	dir := t.TempDir()
	s, err := persistence.New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s, dir
}

func TestRecoverEmptyDataDir(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t)

	state, err := s.Recover()
	require.NoError(t, err)
	assert.Empty(t, state.Queues)
	assert.Empty(t, state.Bindings)

	// default exchanges are always merged in, even with nothing on disk.
	assert.Contains(t, state.Exchanges, "")
	assert.Contains(t, state.Exchanges, "amq.direct")
	assert.Contains(t, state.Exchanges, "amq.fanout")
	assert.Contains(t, state.Exchanges, "amq.topic")
	assert.Contains(t, state.Exchanges, "amq.headers")
}

func TestRecoverFiltersNonDurableAndExclusive(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t)

	err := s.SnapshotExchanges(map[string]*broker.Exchange{
		"durable-ex":    {Name: "durable-ex", Type: broker.ExchangeDirect, Durable: true},
		"transient-ex":  {Name: "transient-ex", Type: broker.ExchangeDirect, Durable: false},
	})
	require.NoError(t, err)

	err = s.SnapshotQueues(map[string]*broker.Queue{
		"durable-q":    {Name: "durable-q", Durable: true},
		"exclusive-q":  {Name: "exclusive-q", Durable: true, Exclusive: true},
		"transient-q":  {Name: "transient-q", Durable: false},
	})
	require.NoError(t, err)

	err = s.SnapshotBindings([]broker.Binding{
		{Source: "durable-ex", Destination: "durable-q", RoutingKey: "rk"},
		{Source: "durable-ex", Destination: "exclusive-q", RoutingKey: "rk2"},
		{Source: "transient-ex", Destination: "durable-q", RoutingKey: "rk3"},
	})
	require.NoError(t, err)

	state, err := s.Recover()
	require.NoError(t, err)

	assert.Contains(t, state.Exchanges, "durable-ex")
	assert.NotContains(t, state.Exchanges, "transient-ex")

	assert.Contains(t, state.Queues, "durable-q")
	assert.NotContains(t, state.Queues, "exclusive-q")
	assert.NotContains(t, state.Queues, "transient-q")

	require.Len(t, state.Bindings, 1)
	assert.Equal(t, "durable-ex", state.Bindings[0].Source)
	assert.Equal(t, "durable-q", state.Bindings[0].Destination)
}

func TestRecoverReplaysMessageLog(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t)

	require.NoError(t, s.SnapshotQueues(map[string]*broker.Queue{
		"orders": {Name: "orders", Durable: true},
	}))

	msg1 := broker.NewMessage("", "orders", false, false, broker.Properties{}, []byte("first"))
	msg2 := broker.NewMessage("", "orders", false, false, broker.Properties{}, []byte("second"))
	require.NoError(t, s.RecordMessage("orders", msg1))
	require.NoError(t, s.RecordMessage("orders", msg2))
	require.NoError(t, s.RemoveMessage("orders", msg1.ID))

	state, err := s.Recover()
	require.NoError(t, err)

	q := state.Queues["orders"]
	require.NotNil(t, q)
	require.Len(t, q.Messages, 1)
	assert.Equal(t, msg2.ID, q.Messages[0].ID)
	assert.Equal(t, []byte("second"), q.Messages[0].Content)
}

func TestRecoverSkipsCorruptedChecksum(t *testing.T) {
	t.Parallel()

	s, dir := newStore(t)

	require.NoError(t, s.SnapshotQueues(map[string]*broker.Queue{
		"q": {Name: "q", Durable: true},
	}))

	msg := broker.NewMessage("", "q", false, false, broker.Properties{}, []byte("payload"))
	require.NoError(t, s.RecordMessage("q", msg))
	require.NoError(t, s.Close())

	logPath := filepath.Join(dir, "messages.log")
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	corrupted := append([]byte(nil), data...)
	for i := len(corrupted) - 10; i < len(corrupted)-5; i++ {
		if (corrupted[i] >= 'a' && corrupted[i] <= 'z') || (corrupted[i] >= '0' && corrupted[i] <= '9') {
			corrupted[i] = 'X'
			break
		}
	}
	require.NoError(t, os.WriteFile(logPath, corrupted, 0o644))

	s2, err := persistence.New(dir)
	require.NoError(t, err)
	defer s2.Close()

	state, err := s2.Recover()
	require.NoError(t, err)
	assert.Empty(t, state.Queues["q"].Messages)
}

func TestCompactDropsTombstonedRecords(t *testing.T) {
	t.Parallel()

	s, dir := newStore(t)

	require.NoError(t, s.SnapshotQueues(map[string]*broker.Queue{
		"q": {Name: "q", Durable: true},
	}))

	kept := broker.NewMessage("", "q", false, false, broker.Properties{}, []byte("kept"))
	removed := broker.NewMessage("", "q", false, false, broker.Properties{}, []byte("removed"))
	require.NoError(t, s.RecordMessage("q", kept))
	require.NoError(t, s.RecordMessage("q", removed))
	require.NoError(t, s.RemoveMessage("q", removed.ID))

	require.NoError(t, s.Compact())

	logPath := filepath.Join(dir, "messages.log")
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "removed")
	assert.Contains(t, string(data), "kept")

	state, err := s.Recover()
	require.NoError(t, err)
	require.Len(t, state.Queues["q"].Messages, 1)
	assert.Equal(t, kept.ID, state.Queues["q"].Messages[0].ID)
}

func TestCompactOnEmptyLogIsNoop(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t)
	assert.NoError(t, s.Compact())
}
