// Package deadletter persists terminally-failed tasks to a BoltDB
// store so an operator can inspect or manually retry them after a run
// ends. The orchestrator core never reads this store back; it's an
// orthogonal sink, not part of the scheduler's own state.
package deadletter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/swarmctl/internal/taskqueue"
)

var bucketEntries = []byte("dead_letters")

// Entry is one terminally-failed or permanently-skipped task, recorded
// for later inspection.
type Entry struct {
	RunID      string    `json:"runId"`
	TaskID     string    `json:"taskId"`
	Reason     string    `json:"reason"`
	Attempts   int       `json:"attempts"`
	Status     string    `json:"status"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Store wraps a BoltDB file dedicated to dead-letter entries.
type Store struct {
	db *bbolt.DB
	mu sync.Mutex

	writeLatency metric.Float64Histogram
	recorded     metric.Int64Counter
}

// Open opens (creating if absent) a BoltDB file at path and ensures
// the dead-letter bucket exists.
func Open(path string, meter metric.Meter) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open deadletter db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create deadletter bucket: %w", err)
	}

	s := &Store{db: db}
	if meter != nil {
		s.writeLatency, _ = meter.Float64Histogram("swarm_deadletter_write_ms")
		s.recorded, _ = meter.Int64Counter("swarm_deadletter_recorded_total")
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record persists one dead-letter entry for a task.
func (s *Store) Record(ctx context.Context, runID string, task taskqueue.Task, reason string) error {
	start := time.Now()
	defer func() {
		if s.writeLatency != nil {
			s.writeLatency.Record(ctx, float64(time.Since(start).Milliseconds()),
				metric.WithAttributes(attribute.String("operation", "record")))
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := Entry{
		RunID:      runID,
		TaskID:     task.ID,
		Reason:     reason,
		Attempts:   task.Attempts,
		Status:     string(task.Status),
		RecordedAt: time.Now(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead-letter entry: %w", err)
	}

	key := fmt.Sprintf("%s:%s", runID, task.ID)
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("write dead-letter entry: %w", err)
	}

	if s.recorded != nil {
		s.recorded.Add(ctx, 1)
	}
	return nil
}

// ListForRun returns every dead-letter entry recorded for a run.
func (s *Store) ListForRun(runID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []Entry
	prefix := []byte(runID + ":")
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}
