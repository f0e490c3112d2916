package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/antinvestor/chat-client/internal/telemetry"
	"github.com/antinvestor/chat-client/wire"
	"github.com/cenkalti/backoff/v4"
	"github.com/pitabwire/util"
)

// PendingStatus is the delivery status of a tracked message. Transitions
// are monotonic: sending -> delivered or sending -> failed.
type PendingStatus string

const (
	StatusSending   PendingStatus = "sending"
	StatusDelivered PendingStatus = "delivered"
	StatusFailed    PendingStatus = "failed"
)

// QueuedMessage is an outbound message waiting for a connection.
type QueuedMessage struct {
	ID         string
	Payload    wire.ChatMessage
	EnqueuedAt time.Time
	Attempts   int
}

// PendingMessage tracks a message handed to the transport until the
// gateway acknowledges it or it exhausts its attempts.
type PendingMessage struct {
	ClientID  string
	Payload   wire.ChatMessage
	Status    PendingStatus
	Timestamp time.Time
}

// QueueConfig tunes the outbound queue.
type QueueConfig struct {
	// MaxSize caps the queue; the oldest entry is evicted on overflow.
	MaxSize int

	// TTL prunes entries that waited too long to ever be worth sending.
	TTL time.Duration

	// MaxAttempts bounds delivery attempts per message.
	MaxAttempts int

	// RetryBase and RetryCap shape the exponential backoff between
	// retry passes.
	RetryBase time.Duration
	RetryCap  time.Duration

	// PacingThreshold and PacingDelay space out sends on large flushes
	// so the transport's own buffering is not saturated.
	PacingThreshold int
	PacingDelay     time.Duration

	// PendingCap and PendingTTL bound the pending map.
	PendingCap int
	PendingTTL time.Duration
}

// DefaultQueueConfig returns the production queue tuning.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxSize:         100,
		TTL:             5 * time.Minute,
		MaxAttempts:     3,
		RetryBase:       time.Second,
		RetryCap:        30 * time.Second,
		PacingThreshold: 10,
		PacingDelay:     10 * time.Millisecond,
		PendingCap:      50,
		PendingTTL:      5 * time.Minute,
	}
}

// OutboundQueue is the bounded, TTL-pruned queue of not-yet-acknowledged
// outbound messages plus their retry bookkeeping. Enqueue never fails:
// overflow evicts the oldest entry (recorded as a metric, never surfaced
// as a user-visible error).
type OutboundQueue struct {
	cfg QueueConfig
	now func() time.Time

	// onFailed reports a message that exhausted its attempts; surfaced
	// per message so the UI can offer a manual resend.
	onFailed func(clientID string, err error)

	mu       sync.Mutex
	entries  []*QueuedMessage
	pending  map[string]*PendingMessage
	flushing bool
}

// NewOutboundQueue creates the queue. onFailed may be nil.
func NewOutboundQueue(cfg QueueConfig, onFailed func(clientID string, err error)) *OutboundQueue {
	return &OutboundQueue{
		cfg:      cfg,
		now:      time.Now,
		onFailed: onFailed,
		pending:  make(map[string]*PendingMessage),
	}
}

// Enqueue appends a message, evicting the oldest entries once the size
// cap is exceeded. Always succeeds.
func (q *OutboundQueue) Enqueue(msg wire.ChatMessage) {
	q.mu.Lock()
	q.entries = append(q.entries, &QueuedMessage{
		ID:         msg.ClientMessageID,
		Payload:    msg,
		EnqueuedAt: q.now(),
	})
	evicted := len(q.entries) - q.cfg.MaxSize
	if evicted > 0 {
		q.entries = append([]*QueuedMessage(nil), q.entries[evicted:]...)
	}
	q.mu.Unlock()

	if evicted > 0 {
		telemetry.QueueEvictionsCounter.Add(context.Background(), int64(evicted))
	}
}

// Track upserts a pending entry in the sending state. Existing entries
// keep their status; transitions stay monotonic.
func (q *OutboundQueue) Track(msg wire.ChatMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.trackLocked(msg)
}

func (q *OutboundQueue) trackLocked(msg wire.ChatMessage) {
	if _, ok := q.pending[msg.ClientMessageID]; ok {
		return
	}
	q.pending[msg.ClientMessageID] = &PendingMessage{
		ClientID:  msg.ClientMessageID,
		Payload:   msg,
		Status:    StatusSending,
		Timestamp: q.now(),
	}
}

// MarkDelivered moves a pending entry from sending to delivered. Returns
// false for unknown ids or entries no longer in the sending state.
func (q *OutboundQueue) MarkDelivered(clientID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.pending[clientID]
	if !ok || p.Status != StatusSending {
		return false
	}
	p.Status = StatusDelivered
	return true
}

func (q *OutboundQueue) markFailed(ctx context.Context, entry *QueuedMessage, cause error) {
	q.mu.Lock()
	p, ok := q.pending[entry.ID]
	if ok && p.Status == StatusSending {
		p.Status = StatusFailed
	}
	q.mu.Unlock()

	telemetry.MessagesFailedCounter.Add(ctx, 1)
	if q.onFailed != nil {
		q.onFailed(entry.ID, fmt.Errorf("%w after %d attempts: %w", ErrDeliveryFailed, entry.Attempts, cause))
	}
}

// Flush drains the queue onto a connected transport. No-op unless the
// transport is connected or another flush is in progress. Entries past
// their TTL are pruned without being sent; the rest move into the
// pending map and are sent in enqueue order, with failed entries retried
// at the back of the effective order across exponentially backed-off
// passes. Entries still unsent when the connection drops mid-flush are
// re-queued ahead of anything enqueued meanwhile.
func (q *OutboundQueue) Flush(ctx context.Context, tp Transport) {
	if tp == nil || !tp.IsConnected() {
		return
	}

	q.mu.Lock()
	if q.flushing {
		q.mu.Unlock()
		return
	}
	q.flushing = true

	now := q.now()
	batch := make([]*QueuedMessage, 0, len(q.entries))
	expired := 0
	for _, e := range q.entries {
		if now.Sub(e.EnqueuedAt) > q.cfg.TTL {
			expired++
			continue
		}
		batch = append(batch, e)
		q.trackLocked(e.Payload)
	}
	q.entries = nil
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.flushing = false
		q.mu.Unlock()
	}()

	if expired > 0 {
		telemetry.QueueExpiredCounter.Add(ctx, int64(expired))
		util.Log(ctx).WithField("count", expired).Debug("pruned expired queued messages")
	}
	if len(batch) == 0 {
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = q.cfg.RetryBase
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = q.cfg.RetryCap
	bo.MaxElapsedTime = 0
	bo.Reset()

	pacing := len(batch) > q.cfg.PacingThreshold

	for pass := 1; len(batch) > 0 && pass <= q.cfg.MaxAttempts; pass++ {
		if pass > 1 {
			select {
			case <-ctx.Done():
				q.requeue(batch)
				return
			case <-time.After(bo.NextBackOff()):
			}
		}
		batch = q.sendPass(ctx, tp, batch, pacing)
	}
}

// sendPass sends every entry once, returning the entries to retry.
func (q *OutboundQueue) sendPass(ctx context.Context, tp Transport, batch []*QueuedMessage, pacing bool) []*QueuedMessage {
	var retry []*QueuedMessage

	for i, entry := range batch {
		if ctx.Err() != nil || !tp.IsConnected() {
			// Connection lost mid-flush; everything unsent waits for
			// the next connect.
			q.requeue(batch[i:])
			return nil
		}

		env, err := wire.NewEnvelope(wire.EventSendMessage, entry.Payload)
		if err != nil {
			entry.Attempts = q.cfg.MaxAttempts
			q.markFailed(ctx, entry, err)
			continue
		}

		entry.Attempts++
		if sendErr := tp.Send(ctx, env); sendErr != nil {
			if entry.Attempts >= q.cfg.MaxAttempts {
				q.markFailed(ctx, entry, sendErr)
			} else {
				retry = append(retry, entry)
			}
			continue
		}
		telemetry.MessagesSentCounter.Add(ctx, 1)

		if pacing && i < len(batch)-1 {
			select {
			case <-ctx.Done():
				q.requeue(batch[i+1:])
				return nil
			case <-time.After(q.cfg.PacingDelay):
			}
		}
	}

	return retry
}

// requeue puts unsent entries back at the head, preserving their
// original enqueue times so the TTL still applies.
func (q *OutboundQueue) requeue(entries []*QueuedMessage) {
	if len(entries) == 0 {
		return
	}
	q.mu.Lock()
	q.entries = append(append([]*QueuedMessage(nil), entries...), q.entries...)
	q.mu.Unlock()
}

// Prune drops queued entries past their TTL and bounds the pending map
// by age and size. Run periodically by the controller's cleanup sweep.
func (q *OutboundQueue) Prune(ctx context.Context) {
	q.mu.Lock()
	now := q.now()

	kept := q.entries[:0]
	expired := 0
	for _, e := range q.entries {
		if now.Sub(e.EnqueuedAt) > q.cfg.TTL {
			expired++
			continue
		}
		kept = append(kept, e)
	}
	q.entries = kept

	for id, p := range q.pending {
		if now.Sub(p.Timestamp) > q.cfg.PendingTTL {
			delete(q.pending, id)
		}
	}
	if over := len(q.pending) - q.cfg.PendingCap; over > 0 {
		oldest := make([]*PendingMessage, 0, len(q.pending))
		for _, p := range q.pending {
			oldest = append(oldest, p)
		}
		sort.Slice(oldest, func(i, j int) bool {
			return oldest[i].Timestamp.Before(oldest[j].Timestamp)
		})
		for _, p := range oldest[:over] {
			delete(q.pending, p.ClientID)
		}
	}
	q.mu.Unlock()

	if expired > 0 {
		telemetry.QueueExpiredCounter.Add(ctx, int64(expired))
	}
}

// Len returns the number of queued (not yet flushed) messages.
func (q *OutboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// PendingLen returns the number of tracked pending messages.
func (q *OutboundQueue) PendingLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Pending returns a snapshot of one pending entry.
func (q *OutboundQueue) Pending(clientID string) (PendingMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.pending[clientID]
	if !ok {
		return PendingMessage{}, false
	}
	return *p, true
}

// QueuedIDs returns the ids currently queued, in enqueue order.
func (q *OutboundQueue) QueuedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, len(q.entries))
	for i, e := range q.entries {
		ids[i] = e.ID
	}
	return ids
}
