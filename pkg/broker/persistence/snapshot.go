package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/architeacher/amqp-broker/pkg/broker"
)

type exchangeSnapshot struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Durable    bool           `json:"durable"`
	AutoDelete bool           `json:"autoDelete"`
	Internal   bool           `json:"internal"`
	Arguments  broker.Table   `json:"arguments"`
}

type queueSnapshot struct {
	Name       string       `json:"name"`
	Durable    bool         `json:"durable"`
	Exclusive  bool         `json:"exclusive"`
	AutoDelete bool         `json:"autoDelete"`
	Arguments  broker.Table `json:"arguments"`
}

type bindingSnapshot struct {
	Source      string       `json:"source"`
	Destination string       `json:"destination"`
	RoutingKey  string       `json:"routingKey"`
	Arguments   broker.Table `json:"arguments"`
}

// writeSnapshot marshals items to JSON and atomically replaces path via
// a temp-file-then-rename, so a crash mid-write never leaves a
// truncated snapshot on disk.
func writeSnapshot(path string, items any) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp snapshot %s: %w", tmp, err)
	}

	return os.Rename(tmp, path)
}

// readSnapshot unmarshals path into out, treating a missing file as an
// empty collection rather than an error.
func readSnapshot(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("read snapshot %s: %w", path, err)
	}

	return json.Unmarshal(data, out)
}

func (s *Store) snapshotPath(name string) string {
	return filepath.Join(s.dataDir, name)
}

// SnapshotExchanges persists only durable exchanges, per spec.md §4.5's
// "Durable qualification for writing".
func (s *Store) SnapshotExchanges(exchanges map[string]*broker.Exchange) error {
	items := make([]exchangeSnapshot, 0, len(exchanges))
	for _, ex := range exchanges {
		if !ex.Durable {
			continue
		}
		items = append(items, exchangeSnapshot{
			Name: ex.Name, Type: string(ex.Type), Durable: ex.Durable,
			AutoDelete: ex.AutoDelete, Internal: ex.Internal, Arguments: ex.Arguments,
		})
	}

	return writeSnapshot(s.snapshotPath("exchanges.json"), items)
}

func (s *Store) SnapshotQueues(queues map[string]*broker.Queue) error {
	s.mu.Lock()
	s.lastQueues = queues
	s.mu.Unlock()

	items := make([]queueSnapshot, 0, len(queues))
	for _, q := range queues {
		if !q.Durable {
			continue
		}
		items = append(items, queueSnapshot{
			Name: q.Name, Durable: q.Durable, Exclusive: q.Exclusive,
			AutoDelete: q.AutoDelete, Arguments: q.Arguments,
		})
	}

	return writeSnapshot(s.snapshotPath("queues.json"), items)
}

// SnapshotBindings persists only bindings whose destination queue is
// durable, per spec.md §4.5.
func (s *Store) SnapshotBindings(bindings []broker.Binding) error {
	s.mu.Lock()
	durableQueues := make(map[string]struct{}, len(s.lastQueues))
	for name, q := range s.lastQueues {
		if q.Durable {
			durableQueues[name] = struct{}{}
		}
	}
	s.mu.Unlock()

	items := make([]bindingSnapshot, 0, len(bindings))
	for _, b := range bindings {
		if _, ok := durableQueues[b.Destination]; !ok {
			continue
		}
		items = append(items, bindingSnapshot{
			Source: b.Source, Destination: b.Destination, RoutingKey: b.RoutingKey, Arguments: b.Arguments,
		})
	}

	return writeSnapshot(s.snapshotPath("bindings.json"), items)
}
