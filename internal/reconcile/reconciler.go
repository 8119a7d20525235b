// Package reconcile merges the optimistic client capacity estimate with the
// server's authoritative one for the currently selected cover image.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/liminalpurple/stegmeter/internal/capacity"
)

var (
	// ErrServerEstimateUnavailable wraps any failed, timed out or malformed
	// server capacity fetch. The client estimate stays in effect.
	ErrServerEstimateUnavailable = errors.New("server capacity estimate unavailable")
	// ErrStaleResponse marks a server estimate that arrived for a superseded selection.
	ErrStaleResponse = errors.New("stale capacity response")
)

// FetchFunc asks the server for the capacity of the current cover.
type FetchFunc func(ctx context.Context) (capacity.Estimate, error)

// Update is one visible capacity value for a selection.
type Update struct {
	Seq      uint64
	Estimate capacity.Estimate
}

// Reconciler tracks the visible capacity estimate across image selections.
// Only the most recent selection may update it.
type Reconciler struct {
	log     zerolog.Logger
	timeout time.Duration

	mu      sync.Mutex
	seq     uint64
	current capacity.Estimate
	lastErr error
	cancel  context.CancelFunc
}

// New creates a reconciler. timeout bounds each server fetch; zero means no
// bound beyond the caller's context.
func New(log zerolog.Logger, timeout time.Duration) *Reconciler {
	return &Reconciler{
		log:     log.With().Str("component", "reconcile").Logger(),
		timeout: timeout,
	}
}

// Select starts a new selection. The returned channel yields the client
// estimate immediately, then the server estimate if fetch succeeds while the
// selection is still current, and is closed once the selection settles.
// A nil fetch settles on the client estimate alone.
func (r *Reconciler) Select(ctx context.Context, client capacity.Estimate, fetch FetchFunc) <-chan Update {
	out := make(chan Update, 2)

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.seq++
	seq := r.seq
	r.current = client
	r.lastErr = nil
	out <- Update{Seq: seq, Estimate: client}

	if fetch == nil {
		r.mu.Unlock()
		close(out)
		return out
	}

	var fetchCtx context.Context
	var cancel context.CancelFunc
	if r.timeout > 0 {
		fetchCtx, cancel = context.WithTimeout(ctx, r.timeout)
	} else {
		fetchCtx, cancel = context.WithCancel(ctx)
	}
	r.cancel = cancel
	r.mu.Unlock()

	go func() {
		defer close(out)
		defer cancel()

		est, err := fetch(fetchCtx)
		if err == nil && est.MaxBytes <= 0 {
			err = fmt.Errorf("server reported capacity %d", est.MaxBytes)
		}

		r.mu.Lock()
		defer r.mu.Unlock()

		if r.seq != seq {
			r.log.Debug().
				Uint64("seq", seq).
				Uint64("current_seq", r.seq).
				Err(ErrStaleResponse).
				Msg("Discarding server estimate for superseded selection")
			return
		}
		r.cancel = nil

		if err != nil {
			r.lastErr = fmt.Errorf("%w: %w", ErrServerEstimateUnavailable, err)
			r.log.Warn().
				Uint64("seq", seq).
				Err(r.lastErr).
				Int64("client_max_bytes", client.MaxBytes).
				Msg("Keeping client capacity estimate")
			return
		}

		est.Source = capacity.SourceServer
		est.Degraded = false
		r.current = est
		r.log.Debug().
			Uint64("seq", seq).
			Int64("max_bytes", est.MaxBytes).
			Msg("Server capacity estimate applied")
		out <- Update{Seq: seq, Estimate: est}
	}()

	return out
}

// Current returns the visible estimate and its selection sequence number.
func (r *Reconciler) Current() (capacity.Estimate, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.seq
}

// Err returns why the current selection has no server estimate, if its fetch failed.
func (r *Reconciler) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Clear drops the current selection. Any in-flight fetch is cancelled and its
// result discarded; the visible capacity becomes unknown.
func (r *Reconciler) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.seq++
	r.current = capacity.Estimate{}
	r.lastErr = nil
}

// Settle drains updates and returns the last estimate seen.
func Settle(updates <-chan Update) capacity.Estimate {
	var last capacity.Estimate
	for u := range updates {
		last = u.Estimate
	}
	return last
}
