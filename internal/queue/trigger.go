package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"server/internal/domain"
)

const triggerQueueKey = "dispatch:triggers"

// Trigger enqueues a dispatch pass. Enqueue is fire-and-forget: failures
// are logged, never returned, because the reaper guarantees eventual
// dispatch regardless of lost triggers.
type Trigger interface {
	Enqueue(ctx context.Context, scope domain.JobScope)
}

// RedisTrigger is an explicit task queue between the request path and the
// worker pool, replacing fire-and-forget HTTP self-calls: the trigger
// outlives the request that produced it.
type RedisTrigger struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisTrigger creates a trigger queue on a connected client.
func NewRedisTrigger(client *redis.Client, logger zerolog.Logger) *RedisTrigger {
	return &RedisTrigger{client: client, logger: logger}
}

// Enqueue pushes one dispatch trigger.
func (t *RedisTrigger) Enqueue(ctx context.Context, scope domain.JobScope) {
	payload, err := json.Marshal(scope)
	if err != nil {
		t.logger.Error().Err(err).Msg("trigger: encode scope failed")
		return
	}
	if err := t.client.LPush(ctx, triggerQueueKey, payload).Err(); err != nil {
		t.logger.Warn().Err(err).Msg("trigger: enqueue failed")
	}
}

// Consume pops triggers until the context ends, running handler with
// bounded concurrency so a trigger burst cannot exhaust the worker.
func (t *RedisTrigger) Consume(ctx context.Context, concurrency int, handler func(context.Context, domain.JobScope)) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for {
		res, err := t.client.BRPop(ctx, 5*time.Second, triggerQueueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				_ = g.Wait()
				return ctx.Err()
			}
			t.logger.Warn().Err(err).Msg("trigger: pop failed")
			select {
			case <-ctx.Done():
				_ = g.Wait()
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		// BRPop returns [key, value].
		if len(res) != 2 {
			continue
		}
		var scope domain.JobScope
		if err := json.Unmarshal([]byte(res[1]), &scope); err != nil {
			t.logger.Warn().Err(err).Msg("trigger: decode scope failed")
			continue
		}
		g.Go(func() error {
			handler(gctx, scope)
			return nil
		})
	}
}

var _ Trigger = (*RedisTrigger)(nil)

// DirectTrigger runs the dispatch in-process when no redis is configured.
// A small semaphore keeps a trigger burst from spawning unbounded work.
type DirectTrigger struct {
	dispatcher *Dispatcher
	logger     zerolog.Logger
	sem        chan struct{}
}

// NewDirectTrigger creates an in-process trigger.
func NewDirectTrigger(dispatcher *Dispatcher, concurrency int, logger zerolog.Logger) *DirectTrigger {
	if concurrency <= 0 {
		concurrency = 2
	}
	return &DirectTrigger{
		dispatcher: dispatcher,
		logger:     logger,
		sem:        make(chan struct{}, concurrency),
	}
}

// Enqueue dispatches asynchronously. A saturated semaphore drops the
// trigger; the periodic dispatch loop picks up anything dropped.
func (t *DirectTrigger) Enqueue(ctx context.Context, scope domain.JobScope) {
	select {
	case t.sem <- struct{}{}:
	default:
		t.logger.Debug().Msg("trigger: dispatch already saturated, dropping")
		return
	}
	go func() {
		defer func() { <-t.sem }()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
		defer cancel()
		if err := t.dispatcher.Dispatch(ctx, scope); err != nil {
			t.logger.Error().Err(err).Msg("trigger: direct dispatch failed")
		}
	}()
}

var _ Trigger = (*DirectTrigger)(nil)
