// Copyright 2024-2026 Aiku AI

package provider

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/aiku/chatsync/pkg/syncerr"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RetryPolicy retries provider calls that fail with a retryable status
// (429, 408 or 5xx) using exponential backoff with jitter.
type RetryPolicy struct {
	// MaxRetries is the number of attempts made after the first one.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Limiter, when set, is waited on before every attempt.
	Limiter *rate.Limiter
}

// DefaultRetryPolicy allows 3 retries starting at half a second.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:   3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
	Multiplier:   2,
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := float64(p.InitialDelay)
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	for range attempt {
		delay *= mult
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	d := time.Duration(delay)
	if d <= 0 {
		return 0
	}
	return d + rand.N(d/2+1)
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// retry budget is spent. A Retry-After requested by the provider replaces the
// computed delay when it is longer.
func (p RetryPolicy) Do(ctx context.Context, tag string, fn func(ctx context.Context) error) error {
	log := zerolog.Ctx(ctx)
	for attempt := 0; ; attempt++ {
		if p.Limiter != nil {
			if err := p.Limiter.Wait(ctx); err != nil {
				return err
			}
		}
		err := fn(ctx)
		if err == nil || attempt >= p.MaxRetries || !syncerr.Retryable(err) {
			return err
		}
		delay := p.backoff(attempt)
		if retryAfter := syncerr.RetryAfter(err); retryAfter > delay {
			delay = retryAfter
		}
		log.Debug().
			Err(err).
			Str("tag", tag).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying provider call")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Retrying decorates an adapter with a retry policy.
type Retrying struct {
	next   Adapter
	policy RetryPolicy
}

var _ Adapter = (*Retrying)(nil)

// WithRetry wraps next so every primitive runs under policy.
func WithRetry(next Adapter, policy RetryPolicy) *Retrying {
	return &Retrying{next: next, policy: policy}
}

func (r *Retrying) tag(op string) string {
	return r.next.Name() + "." + op
}

func (r *Retrying) Name() string {
	return r.next.Name()
}

func (r *Retrying) CreateMessage(ctx context.Context, params CreateMessageParams) (out *SentMessage, err error) {
	err = r.policy.Do(ctx, r.tag("create_message"), func(ctx context.Context) (err error) {
		out, err = r.next.CreateMessage(ctx, params)
		return
	})
	return
}

func (r *Retrying) CreateMessageWithAttachments(ctx context.Context, params CreateMessageParams) (out *SentMessage, err error) {
	err = r.policy.Do(ctx, r.tag("create_message_with_attachments"), func(ctx context.Context) (err error) {
		out, err = r.next.CreateMessageWithAttachments(ctx, params)
		return
	})
	return
}

func (r *Retrying) UpdateMessage(ctx context.Context, params UpdateMessageParams) error {
	return r.policy.Do(ctx, r.tag("update_message"), func(ctx context.Context) error {
		return r.next.UpdateMessage(ctx, params)
	})
}

func (r *Retrying) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return r.policy.Do(ctx, r.tag("delete_message"), func(ctx context.Context) error {
		return r.next.DeleteMessage(ctx, channelID, messageID)
	})
}

func (r *Retrying) AddReaction(ctx context.Context, params ReactionParams) error {
	return r.policy.Do(ctx, r.tag("add_reaction"), func(ctx context.Context) error {
		return r.next.AddReaction(ctx, params)
	})
}

func (r *Retrying) RemoveReaction(ctx context.Context, params ReactionParams) error {
	return r.policy.Do(ctx, r.tag("remove_reaction"), func(ctx context.Context) error {
		return r.next.RemoveReaction(ctx, params)
	})
}

func (r *Retrying) CreateThread(ctx context.Context, params CreateThreadParams) (out *Thread, err error) {
	err = r.policy.Do(ctx, r.tag("create_thread"), func(ctx context.Context) (err error) {
		out, err = r.next.CreateThread(ctx, params)
		return
	})
	return
}
