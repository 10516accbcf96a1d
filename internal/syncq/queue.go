// Package syncq delivers completed transactions and liveness heartbeats to
// the upstream collector, best effort. Items are written to local storage
// before any delivery attempt, so an ungraceful shutdown never loses a
// revenue record.
package syncq

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"pisowifi-backend/internal/database"
	"pisowifi-backend/internal/models"
)

// MetricsFunc supplies the machine metrics attached to each heartbeat.
type MetricsFunc func() map[string]any

// Queue is the durable FIFO between this machine and the collector. Delivery
// is at-least-once; the collector dedups by item id.
type Queue struct {
	repo       *database.SyncRepo
	poster     Poster
	machineID  string
	maxRetries int
	flushEvery time.Duration
	beatEvery  time.Duration
	metrics    MetricsFunc
	kick       chan struct{}
}

// New creates a queue. poster may be nil when no upstream is configured; items
// still persist locally and the flusher idles.
func New(poster Poster, machineID string, maxRetries int, flushEvery, beatEvery time.Duration, metrics MetricsFunc) *Queue {
	return &Queue{
		repo:       database.NewSyncRepo(),
		poster:     poster,
		machineID:  machineID,
		maxRetries: maxRetries,
		flushEvery: flushEvery,
		beatEvery:  beatEvery,
		metrics:    metrics,
		kick:       make(chan struct{}, 1),
	}
}

// RecordSale enqueues a completed monetary transaction. Implements the
// ledger's SaleRecorder.
func (q *Queue) RecordSale(mac string, pesos int) {
	payload, err := json.Marshal(models.SaleRecord{
		MachineID: q.machineID,
		Amount:    pesos,
		Type:      "coin",
		MAC:       mac,
		Timestamp: time.Now(),
	})
	if err != nil {
		log.Printf("syncq: sale marshal failed: %v", err)
		return
	}
	if _, err := q.repo.Enqueue(models.SyncKindSale, string(payload)); err != nil {
		log.Printf("syncq: FAILED to persist sale record for %s: %v", mac, err)
		return
	}
	q.Kick()
}

// EnqueueHeartbeat records a liveness report
func (q *Queue) EnqueueHeartbeat() {
	metrics := map[string]any{}
	if q.metrics != nil {
		metrics = q.metrics()
	}
	payload, err := json.Marshal(models.HeartbeatRecord{
		MachineID: q.machineID,
		Status:    "online",
		Metrics:   metrics,
		Timestamp: time.Now(),
	})
	if err != nil {
		log.Printf("syncq: heartbeat marshal failed: %v", err)
		return
	}
	if _, err := q.repo.Enqueue(models.SyncKindStatus, string(payload)); err != nil {
		log.Printf("syncq: failed to persist heartbeat: %v", err)
	}
}

// Kick requests an immediate flush, typically after connectivity returns.
// Never blocks.
func (q *Queue) Kick() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// Run drives the heartbeat and flush loops until ctx is cancelled
func (q *Queue) Run(ctx context.Context) {
	flush := time.NewTicker(q.flushEvery)
	defer flush.Stop()
	beat := time.NewTicker(q.beatEvery)
	defer beat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-beat.C:
			q.EnqueueHeartbeat()
		case <-flush.C:
			q.Flush(ctx)
		case <-q.kick:
			q.Flush(ctx)
		}
	}
}

// Flush walks the queue in FIFO order, attempting each item once. Failures
// increment the retry counter in place; an item past the retry ceiling is
// dropped with a warning rather than retried forever.
func (q *Queue) Flush(ctx context.Context) {
	if q.poster == nil {
		return
	}

	items, err := q.repo.ListPending(100)
	if err != nil {
		log.Printf("syncq: listing queue failed: %v", err)
		return
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return
		}

		if item.RetryCount >= q.maxRetries {
			log.Printf("syncq: dropping %s item %s after %d failed attempts", item.Kind, item.ID, item.RetryCount)
			if err := q.repo.Delete(item.ID); err != nil {
				log.Printf("syncq: failed to drop item %s: %v", item.ID, err)
			}
			continue
		}

		if err := q.poster.Post(ctx, item.Kind, item.Payload); err != nil {
			if err := q.repo.IncrementRetry(item.ID); err != nil {
				log.Printf("syncq: failed to record retry for %s: %v", item.ID, err)
			}
			continue
		}

		if err := q.repo.Delete(item.ID); err != nil {
			log.Printf("syncq: failed to remove delivered item %s: %v", item.ID, err)
		}
	}
}

// Depth returns the number of queued items
func (q *Queue) Depth() int {
	count, err := q.repo.Count()
	if err != nil {
		return -1
	}
	return count
}
