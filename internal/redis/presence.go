package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/mossy-p/signal-relay/internal/metrics"
	"github.com/redis/go-redis/v9"
)

type presenceOp int

const (
	opJoin presenceOp = iota
	opLeave
)

type presenceEvent struct {
	op       presenceOp
	roomID   string
	clientID string
}

// Presence mirrors room membership into redis sets for external inspection.
//
// Updates are queued and applied by Run so the signaling path never waits on
// redis. When the queue is full the update is dropped. Nothing is ever read
// back for routing.
type Presence struct {
	client  *redis.Client
	ttl     time.Duration
	events  chan presenceEvent
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewPresence(client *redis.Client, ttl time.Duration, buffer int, log *slog.Logger, m *metrics.Metrics) *Presence {
	return &Presence{
		client:  client,
		ttl:     ttl,
		events:  make(chan presenceEvent, buffer),
		log:     log,
		metrics: m,
	}
}

func (p *Presence) Joined(roomID, clientID string) {
	p.enqueue(presenceEvent{op: opJoin, roomID: roomID, clientID: clientID})
}

func (p *Presence) Left(roomID, clientID string) {
	p.enqueue(presenceEvent{op: opLeave, roomID: roomID, clientID: clientID})
}

// Evicted writes nothing. The last SREM already removed the set, and a DEL
// queued here could land after a member of a fresh room with the same id.
func (p *Presence) Evicted(roomID string) {
	p.log.Debug("room evicted", "room", roomID)
}

func (p *Presence) enqueue(ev presenceEvent) {
	select {
	case p.events <- ev:
	default:
		p.metrics.Inc(metrics.PresenceDropped)
		p.log.Warn("presence queue full, dropping update", "room", ev.roomID)
	}
}

// Run applies queued updates until ctx is cancelled.
func (p *Presence) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-p.events:
			if err := p.apply(ctx, ev); err != nil {
				p.log.Warn("presence update failed", "room", ev.roomID, "error", err)
			}
		}
	}
}

func (p *Presence) apply(ctx context.Context, ev presenceEvent) error {
	key := PeersKey(ev.roomID)
	switch ev.op {
	case opJoin:
		pipe := p.client.TxPipeline()
		pipe.SAdd(ctx, key, ev.clientID)
		pipe.Expire(ctx, key, p.ttl)
		_, err := pipe.Exec(ctx)
		return err
	case opLeave:
		return p.client.SRem(ctx, key, ev.clientID).Err()
	}
	return nil
}
