// Package eventbus implements the publish/subscribe and request/response
// adapter described in SPEC_FULL.md §4.11. The public surface (Publish,
// Subscribe, Request) is transport-agnostic; Redis pub/sub is the concrete
// backing transport, never leaked past this package.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/citytransit/simcore/config"
	"github.com/citytransit/simcore/internal/simerr"
	"github.com/citytransit/simcore/pkg/cache"
)

var channels = []Channel{ChannelDepot, ChannelRoute, ChannelVehicle, ChannelSystem}

// FallbackFunc is a locally registered callback invoked in-process when the
// bus cannot deliver a message. Callers register them per channel with
// RegisterFallback; they fire only while the bus is disconnected. The
// conductor signals its driver by direct call, not over the bus, and
// registers none.
type FallbackFunc func(env Envelope)

// Bus is the Redis-backed adapter. The zero value is not usable; construct
// with New.
type Bus struct {
	redisCfg config.RedisConfig
	busCfg   config.BusConfig
	source   string

	mu        sync.RWMutex
	client    *redis.Client
	connected bool
	backoff   time.Duration

	fbMu      sync.RWMutex
	fallbacks map[Channel][]FallbackFunc

	pendingMu sync.Mutex
	pending   map[string]chan Envelope
}

// New dials Redis once; it does not start the reconnect supervisor, which
// the caller runs with Reconnect in its own goroutine. source identifies
// this process in published envelopes (e.g. "simulator").
func New(ctx context.Context, redisCfg config.RedisConfig, busCfg config.BusConfig, source string) *Bus {
	b := &Bus{
		redisCfg:  redisCfg,
		busCfg:    busCfg,
		source:    source,
		fallbacks: make(map[Channel][]FallbackFunc),
		pending:   make(map[string]chan Envelope),
		backoff:   time.Second,
	}
	b.connect(ctx)
	return b
}

func (b *Bus) connect(ctx context.Context) {
	client, err := cache.NewRedisClient(ctx, b.redisCfg)
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		log.Printf("[eventbus] connect failed: %v", err)
		b.connected = false
		return
	}
	b.client = client
	b.connected = true
	b.backoff = time.Second
}

// Connected reports whether the adapter currently believes it has a live
// connection. While it is false, Publish drops the message without trying
// the client, and only Reconnect sets it back to true.
func (b *Bus) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// Reconnect retries the connection with exponential backoff capped at
// busCfg.ReconnectMaxSeconds. Intended to be run in its own goroutine by the
// caller; returns when ctx is done.
func (b *Bus) Reconnect(ctx context.Context) {
	capDuration := time.Duration(b.busCfg.ReconnectMaxSeconds) * time.Second
	for {
		if b.Connected() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(capDuration):
				continue
			}
		}
		b.mu.RLock()
		wait := b.backoff
		b.mu.RUnlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		b.connect(ctx)
		if !b.Connected() {
			next := wait * 2
			if next > capDuration {
				next = capDuration
			}
			b.mu.Lock()
			b.backoff = next
			b.mu.Unlock()
		}
	}
}

// RegisterFallback adds a local callback invoked whenever a Publish on ch
// cannot be delivered over the bus.
func (b *Bus) RegisterFallback(ch Channel, fn FallbackFunc) {
	b.fbMu.Lock()
	defer b.fbMu.Unlock()
	b.fallbacks[ch] = append(b.fallbacks[ch], fn)
}

// Publish sends an envelope on the named channel. A disconnected bus drops
// the message with a warning rather than queuing it (SPEC_FULL.md §4.11
// "Reconnect"); registered fallback callbacks still fire so conductors keep
// working in-process.
func (b *Bus) Publish(ctx context.Context, ch Channel, msgType string, data any) error {
	env, err := b.buildEnvelope(msgType, "", data)
	if err != nil {
		return err
	}
	b.deliverLocal(ch, env)

	client := b.activeClient()
	if client == nil {
		log.Printf("[eventbus] dropped %s on %s channel: no connection", msgType, ch)
		return nil
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("eventbus: marshal envelope: %w", err)
	}
	if err := client.Publish(ctx, string(ch), payload).Err(); err != nil {
		log.Printf("[eventbus] dropped %s on %s channel: %v", msgType, ch, err)
		b.markDisconnected()
	}
	return nil
}

// Request publishes an envelope and blocks for a correlated reply on the
// same channel, up to busCfg.RequestTimeoutSeconds (default 5s). Returns
// simerr.ErrBusTimeout if no reply arrives in time, and at once when the
// bus is disconnected.
func (b *Bus) Request(ctx context.Context, ch Channel, msgType string, data any) (Envelope, error) {
	correlationID := uuid.NewString()
	env, err := b.buildEnvelope(msgType, correlationID, data)
	if err != nil {
		return Envelope{}, err
	}

	replyCh := make(chan Envelope, 1)
	b.pendingMu.Lock()
	b.pending[correlationID] = replyCh
	b.pendingMu.Unlock()
	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, correlationID)
		b.pendingMu.Unlock()
	}()

	client := b.activeClient()
	if client == nil {
		return Envelope{}, fmt.Errorf("eventbus: request on %s: no connection: %w", ch, simerr.ErrBusTimeout)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("eventbus: marshal envelope: %w", err)
	}
	if err := client.Publish(ctx, string(ch), payload).Err(); err != nil {
		b.markDisconnected()
		return Envelope{}, fmt.Errorf("eventbus: publish request: %w", err)
	}

	timeout := time.Duration(b.busCfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	select {
	case reply := <-replyCh:
		return reply, nil
	case <-time.After(timeout):
		return Envelope{}, fmt.Errorf("eventbus: %s request %q: %w", ch, msgType, simerr.ErrBusTimeout)
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// Respond publishes env as a reply, preserving the requester's correlation
// id so Request can match it.
func (b *Bus) Respond(ctx context.Context, ch Channel, correlationID, msgType string, data any) error {
	env, err := b.buildEnvelope(msgType, correlationID, data)
	if err != nil {
		return err
	}
	client := b.activeClient()
	if client == nil {
		return nil
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("eventbus: marshal envelope: %w", err)
	}
	return client.Publish(ctx, string(ch), payload).Err()
}

// Subscribe runs fn for every envelope received on ch until ctx is done.
// Intended to be called in its own goroutine. Envelopes bearing a
// correlation id that matches an in-flight Request are routed to that
// caller instead of fn.
func (b *Bus) Subscribe(ctx context.Context, ch Channel, fn func(Envelope)) {
	client := b.activeClient()
	if client == nil {
		log.Printf("[eventbus] subscribe to %s: no connection", ch)
		return
	}
	sub := client.Subscribe(ctx, string(ch))
	defer sub.Close()

	msgCh := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("[eventbus] malformed envelope on %s: %v", ch, err)
				continue
			}
			if env.CorrelationID != "" && b.routeToPending(env) {
				continue
			}
			fn(env)
		}
	}
}

func (b *Bus) routeToPending(env Envelope) bool {
	b.pendingMu.Lock()
	replyCh, ok := b.pending[env.CorrelationID]
	b.pendingMu.Unlock()
	if !ok {
		return false
	}
	select {
	case replyCh <- env:
	default:
	}
	return true
}

func (b *Bus) deliverLocal(ch Channel, env Envelope) {
	b.fbMu.RLock()
	fns := append([]FallbackFunc(nil), b.fallbacks[ch]...)
	b.fbMu.RUnlock()
	if !b.Connected() {
		for _, fn := range fns {
			fn(env)
		}
	}
}

func (b *Bus) buildEnvelope(msgType, correlationID string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("eventbus: marshal payload: %w", err)
	}
	return Envelope{
		ID:            uuid.NewString(),
		Type:          msgType,
		Source:        b.source,
		Timestamp:     time.Now().Unix(),
		CorrelationID: correlationID,
		Data:          raw,
	}, nil
}

func (b *Bus) activeClient() *redis.Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.connected {
		return nil
	}
	return b.client
}

func (b *Bus) markDisconnected() {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
}

// Close releases the underlying Redis client.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

// Channels returns the four logical channels the adapter multiplexes.
func Channels() []Channel {
	return append([]Channel(nil), channels...)
}
