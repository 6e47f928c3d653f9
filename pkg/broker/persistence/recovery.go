package persistence

import (
	"bufio"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/architeacher/amqp-broker/pkg/broker"
)

// Store is the append-log-plus-snapshot implementation of
// broker.Store. All its exported methods are safe for concurrent use,
// though in practice the broker calls them only from within its own
// single entity-graph lock.
type Store struct {
	dataDir string
	log     *messageLog

	mu         sync.Mutex
	lastQueues map[string]*broker.Queue
}

// New opens (creating if absent) the data directory's message log,
// ready for both recovery and further appends.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	l, err := openMessageLog(dataDir)
	if err != nil {
		return nil, err
	}

	return &Store{dataDir: dataDir, log: l}, nil
}

func (s *Store) RecordMessage(queue string, msg *broker.Message) error {
	return s.log.recordMessage(queue, msg)
}

func (s *Store) RemoveMessage(queue, messageID string) error {
	return s.log.removeMessage(queue, messageID)
}

func (s *Store) Close() error {
	return s.log.close()
}

// Recover implements spec.md §4.5's "Recovery" paragraph: exchanges,
// then queues, then bindings (filtered to surviving endpoints), then
// the message log replayed into queues, then the default-exchange set
// merged in.
func (s *Store) Recover() (*broker.RecoveredState, error) {
	var exSnaps []exchangeSnapshot
	if err := readSnapshot(s.snapshotPath("exchanges.json"), &exSnaps); err != nil {
		return nil, err
	}
	var qSnaps []queueSnapshot
	if err := readSnapshot(s.snapshotPath("queues.json"), &qSnaps); err != nil {
		return nil, err
	}
	var bSnaps []bindingSnapshot
	if err := readSnapshot(s.snapshotPath("bindings.json"), &bSnaps); err != nil {
		return nil, err
	}

	exchanges := make(map[string]*broker.Exchange, len(exSnaps))
	for _, e := range exSnaps {
		if !e.Durable {
			continue
		}
		exchanges[e.Name] = &broker.Exchange{
			Name: e.Name, Type: broker.ExchangeType(e.Type), Durable: true,
			AutoDelete: e.AutoDelete, Internal: e.Internal, Arguments: e.Arguments,
		}
	}

	queues := make(map[string]*broker.Queue, len(qSnaps))
	for _, q := range qSnaps {
		if !q.Durable || q.Exclusive {
			continue
		}
		queues[q.Name] = &broker.Queue{
			Name: q.Name, Durable: true, AutoDelete: q.AutoDelete, Arguments: q.Arguments,
		}
	}

	var bindings []broker.Binding
	for _, b := range bSnaps {
		if _, ok := exchanges[b.Source]; !ok {
			continue
		}
		if _, ok := queues[b.Destination]; !ok {
			continue
		}
		bindings = append(bindings, broker.Binding{
			Source: b.Source, Destination: b.Destination, RoutingKey: b.RoutingKey, Arguments: b.Arguments,
		})
	}

	if err := s.replayMessageLog(queues); err != nil {
		return nil, err
	}

	mergeDefaultExchanges(exchanges)

	s.mu.Lock()
	s.lastQueues = queues
	s.mu.Unlock()

	return &broker.RecoveredState{Exchanges: exchanges, Queues: queues, Bindings: bindings}, nil
}

// replayMessageLog reads messages.log in order, applying "message" and
// "delete" records to the already-recovered queues. A checksum mismatch
// skips just that record; no warning is logged.
func (s *Store) replayMessageLog(queues map[string]*broker.Queue) error {
	f, err := os.Open(filepath.Join(s.dataDir, "messages.log"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("open message log for replay: %w", err)
	}
	defer f.Close()

	byID := make(map[string]map[string]int) // queue -> messageID -> index in queues[q].Messages

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		var rec logRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}

		q, ok := queues[rec.Queue]
		if !ok {
			continue
		}

		switch rec.Type {
		case "message":
			data, err := base64.StdEncoding.DecodeString(rec.Data)
			if err != nil {
				continue
			}
			sum := md5.Sum(data)
			if hex.EncodeToString(sum[:]) != rec.Checksum {
				continue
			}

			var env envelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			content, err := base64.StdEncoding.DecodeString(env.Content)
			if err != nil {
				continue
			}

			msg := &broker.Message{
				ID: env.ID, Exchange: env.Exchange, RoutingKey: env.RoutingKey,
				Mandatory: env.Mandatory, Immediate: env.Immediate,
				Properties: env.Properties, Content: content, Timestamp: env.Timestamp,
			}

			if byID[rec.Queue] == nil {
				byID[rec.Queue] = make(map[string]int)
			}
			byID[rec.Queue][rec.MessageID] = len(q.Messages)
			q.Messages = append(q.Messages, msg)
		case "delete":
			if idx, ok := byID[rec.Queue][rec.MessageID]; ok {
				q.Messages[idx] = nil
			}
		}
	}

	for _, q := range queues {
		compacted := q.Messages[:0]
		for _, m := range q.Messages {
			if m != nil {
				compacted = append(compacted, m)
			}
		}
		q.Messages = compacted
	}

	return scanner.Err()
}

func mergeDefaultExchanges(exchanges map[string]*broker.Exchange) {
	defaults := []struct {
		name string
		typ  broker.ExchangeType
	}{
		{"", broker.ExchangeDirect},
		{"amq.direct", broker.ExchangeDirect},
		{"amq.fanout", broker.ExchangeFanout},
		{"amq.topic", broker.ExchangeTopic},
		{"amq.headers", broker.ExchangeHeaders},
	}

	for _, d := range defaults {
		if _, ok := exchanges[d.name]; ok {
			continue
		}
		exchanges[d.name] = &broker.Exchange{Name: d.name, Type: d.typ, Durable: true, IsDefault: true}
	}
}
