// Package streamfanout lets multiple hookserviced processes observe each
// other's events over a shared Redis stream, so an event originated on one
// node can still trigger dispatch on its peers.
package streamfanout

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inboundhook/hookservice/internal/obslog"
	"github.com/inboundhook/hookservice/pkg/canonical"
)

const daemonIDProperty = "daemon_id"

// Dispatcher is the subset of internal/dispatch.Dispatcher the consumer
// needs to hand a reconstructed event to.
type Dispatcher interface {
	Dispatch(ctx context.Context, event *canonical.Event) error
}

// Publisher is the write side: XADD onto the shared stream with a
// maxlen-bounded trim policy so the stream never grows unbounded.
type Publisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewPublisher(client *redis.Client, stream string, maxLen int64) *Publisher {
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &Publisher{client: client, stream: stream, maxLen: maxLen}
}

// Publish writes event to the stream as a flat stream record, trimming the
// stream approximately to maxLen entries.
func (p *Publisher) Publish(ctx context.Context, event *canonical.Event) error {
	rec, err := event.ToStreamRecord()
	if err != nil {
		return fmt.Errorf("streamfanout: encode: %w", err)
	}
	values := make(map[string]any, len(rec))
	for k, v := range rec {
		values[k] = v
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Err()
}

// Options configures Consumer.
type Options struct {
	Stream       string
	DaemonID     string
	ReadCount    int64
	BlockTimeout time.Duration

	ReconnectBackoffMin time.Duration
	ReconnectBackoffMax time.Duration

	Logger *obslog.Logger
}

func (o *Options) setDefaults() {
	if o.Stream == "" {
		o.Stream = "hookservice:events"
	}
	if o.ReadCount <= 0 {
		o.ReadCount = 50
	}
	if o.BlockTimeout <= 0 {
		o.BlockTimeout = 5 * time.Second
	}
	if o.ReconnectBackoffMin <= 0 {
		o.ReconnectBackoffMin = 200 * time.Millisecond
	}
	if o.ReconnectBackoffMax <= 0 {
		o.ReconnectBackoffMax = 30 * time.Second
	}
}

// Consumer reads the shared stream starting from the moment it attached,
// reconstructs events from stream records, drops anything it originated
// itself, and hands the rest to a Dispatcher.
type Consumer struct {
	client     *redis.Client
	dispatcher Dispatcher
	opts       Options
	logger     *obslog.Logger

	lastID string
}

// NewConsumer builds a Consumer positioned at "$" (messages published
// after this call), matching the spec's "after I started" cursor
// semantics.
func NewConsumer(client *redis.Client, dispatcher Dispatcher, opts Options) *Consumer {
	opts.setDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = obslog.Nop
	}
	return &Consumer{
		client:     client,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger,
		lastID:     "$",
	}
}

// Run blocks, reading and dispatching stream records until ctx is
// cancelled. Connection loss is retried with bounded backoff rather than
// returning an error, since a transient broker outage should not
// permanently kill the consumer.
func (c *Consumer) Run(ctx context.Context) {
	backoff := c.opts.ReconnectBackoffMin
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.readOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("streamfanout: read failed, backing off", map[string]any{
				"error": err.Error(), "backoff_ms": backoff.Milliseconds(),
			})
			sleep := deterministicJitter(backoff, 20, "reconnect", c.opts.DaemonID, attempt)
			select {
			case <-ctx.Done():
				return
			case <-time.After(sleep):
			}
			attempt++
			backoff *= 2
			if backoff > c.opts.ReconnectBackoffMax {
				backoff = c.opts.ReconnectBackoffMax
			}
			continue
		}
		attempt = 0
		backoff = c.opts.ReconnectBackoffMin
	}
}

func (c *Consumer) readOnce(ctx context.Context) error {
	res, err := c.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{c.opts.Stream, c.lastID},
		Count:   c.opts.ReadCount,
		Block:   c.opts.BlockTimeout,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return err
	}
	for _, stream := range res {
		for _, msg := range stream.Messages {
			c.lastID = msg.ID
			c.handleMessage(ctx, msg)
		}
	}
	return nil
}

func (c *Consumer) handleMessage(ctx context.Context, msg redis.XMessage) {
	rec := make(map[string]string, len(msg.Values))
	for k, v := range msg.Values {
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprint(v)
		}
		rec[k] = s
	}
	event, err := canonical.FromStreamRecord(rec)
	if err != nil {
		c.logger.Warn("streamfanout: malformed stream record", map[string]any{"id": msg.ID, "error": err.Error()})
		return
	}
	if originID, ok := event.Properties[daemonIDProperty]; ok {
		if s, ok := originID.(string); ok && s == c.opts.DaemonID {
			return
		}
	}
	if err := c.dispatcher.Dispatch(ctx, event); err != nil {
		c.logger.Warn("streamfanout: dispatch failed", map[string]any{"event_id": event.EventID, "error": err.Error()})
	}
}

// deterministicJitter mirrors the formula in internal/outbox/jitter.go,
// kept local here since each package's jitter call sites vary in which
// identifiers they mix into the hash.
func deterministicJitter(base time.Duration, pct int, parts ...any) time.Duration {
	if pct <= 0 {
		return base
	}
	if pct > 50 {
		pct = 50
	}
	h := sha256.New()
	for _, p := range parts {
		_, _ = h.Write([]byte(fmt.Sprint(p)))
		_, _ = h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	u := binary.LittleEndian.Uint64(sum[:8])
	span := uint64(pct*2 + 1)
	deltaPct := int(u%span) - pct
	delta := (base * time.Duration(deltaPct)) / 100
	return base + delta
}
