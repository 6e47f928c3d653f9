// Package persistence implements the append-log-plus-snapshot durability
// layer described by the broker's persistence design: an append-only
// message log with per-record checksums, atomically-replaced entity
// snapshots, and a startup recovery replay.
package persistence

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/architeacher/amqp-broker/pkg/broker"
)

// logRecord is one line of messages.log.
type logRecord struct {
	Type      string `json:"type"`
	Queue     string `json:"queue"`
	MessageID string `json:"messageId"`
	Data      string `json:"data,omitempty"`
	Checksum  string `json:"checksum,omitempty"`
}

// envelope is the JSON form of a persisted Message, base64-encoded into
// logRecord.Data.
type envelope struct {
	ID         string         `json:"id"`
	Exchange   string         `json:"exchange"`
	RoutingKey string         `json:"routingKey"`
	Mandatory  bool           `json:"mandatory"`
	Immediate  bool           `json:"immediate"`
	Properties broker.Properties `json:"properties"`
	Content    string         `json:"content"`
	Timestamp  time.Time      `json:"timestamp"`
}

// messageLog is the append-only durable message journal. Every write is
// routed through a circuit breaker so a failing disk degrades the
// broker's persistence calls into fast errors instead of hanging
// indefinitely on a stuck filesystem.
type messageLog struct {
	mu   sync.Mutex
	path string
	f    *os.File
	cb   *gobreaker.CircuitBreaker
}

func openMessageLog(dataDir string) (*messageLog, error) {
	path := filepath.Join(dataDir, "messages.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open message log: %w", err)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "persistence.messageLog",
		MaxRequests: 1,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &messageLog{path: path, f: f, cb: cb}, nil
}

// appendRecord serializes and durably flushes a single record before
// returning, per the "flush before ack" requirement.
func (l *messageLog) appendRecord(rec logRecord) error {
	_, err := l.cb.Execute(func() (any, error) {
		l.mu.Lock()
		defer l.mu.Unlock()

		line, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("marshal log record: %w", err)
		}
		line = append(line, '\n')

		if _, err := l.f.Write(line); err != nil {
			return nil, fmt.Errorf("write log record: %w", err)
		}

		return nil, l.f.Sync()
	})

	return err
}

func (l *messageLog) recordMessage(queue string, msg *broker.Message) error {
	env := envelope{
		ID:         msg.ID,
		Exchange:   msg.Exchange,
		RoutingKey: msg.RoutingKey,
		Mandatory:  msg.Mandatory,
		Immediate:  msg.Immediate,
		Properties: msg.Properties,
		Content:    base64.StdEncoding.EncodeToString(msg.Content),
		Timestamp:  msg.Timestamp,
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal message envelope: %w", err)
	}

	sum := md5.Sum(data)

	return l.appendRecord(logRecord{
		Type:      "message",
		Queue:     queue,
		MessageID: msg.ID,
		Data:      base64.StdEncoding.EncodeToString(data),
		Checksum:  hex.EncodeToString(sum[:]),
	})
}

func (l *messageLog) removeMessage(queue, messageID string) error {
	return l.appendRecord(logRecord{Type: "delete", Queue: queue, MessageID: messageID})
}

func (l *messageLog) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.f.Close()
}
