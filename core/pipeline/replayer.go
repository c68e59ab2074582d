package pipeline

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/locks"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/logging"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/registry"
)

const (
	replayBatch    = 200
	replayResource = "registry:replayer:pending"
)

// PendingReplayer re-runs validation for pending submissions whose trigger was lost.
type PendingReplayer struct {
	machine      *Machine
	store        registry.Store
	locker       locks.Locker
	owner        string
	pendingAge   time.Duration
	pollInterval time.Duration
	lockTTL      time.Duration
}

func NewPendingReplayer(machine *Machine, store registry.Store, locker locks.Locker, pendingAge, pollInterval time.Duration) *PendingReplayer {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	if pendingAge <= 0 {
		pendingAge = 5 * time.Minute
	}
	// The lease is renewed before every replay, so it only has to outlive one run.
	lockTTL := 2 * pollInterval
	if machine != nil && 2*machine.cfg.RunTimeout > lockTTL {
		lockTTL = 2 * machine.cfg.RunTimeout
	}
	host, _ := os.Hostname()
	return &PendingReplayer{
		machine:      machine,
		store:        store,
		locker:       locker,
		owner:        host + "-" + uuid.NewString(),
		pendingAge:   pendingAge,
		pollInterval: pollInterval,
		lockTTL:      lockTTL,
	}
}

// Start polls until ctx is cancelled. Only one replica replays per interval.
func (r *PendingReplayer) Start(ctx context.Context) {
	if r == nil || r.store == nil || r.machine == nil {
		return
	}
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *PendingReplayer) tick(ctx context.Context) int {
	if r.locker != nil {
		ok, err := r.locker.Acquire(ctx, replayResource, r.owner, r.lockTTL)
		if err != nil {
			logging.Error("replayer", "lock acquisition failed", "error", err)
			return 0
		}
		if !ok {
			return 0
		}
		defer func() {
			if _, err := r.locker.Release(context.Background(), replayResource, r.owner); err != nil {
				logging.Error("replayer", "lock release failed", "error", err)
			}
		}()
	}
	return r.replayPending(ctx, time.Now().Add(-r.pendingAge))
}

func (r *PendingReplayer) replayPending(ctx context.Context, cutoff time.Time) int {
	subs, err := r.store.ListUnvalidatedPending(ctx, cutoff, replayBatch)
	if err != nil {
		logging.Error("replayer", "list pending submissions failed", "error", err)
		return 0
	}
	if len(subs) == 0 {
		return 0
	}

	logging.Info("replayer", "replaying pending submissions", "count", len(subs))
	replayed := 0
	for i, sub := range subs {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && !r.renew(ctx) {
			break
		}
		if err := r.machine.Process(ctx, sub.ID); err != nil {
			logging.Error("replayer", "replay submission failed", "submission_id", sub.ID, "error", err)
			continue
		}
		replayed++
	}
	return replayed
}

// renew extends the lease between replays. False means another replica may
// now hold it and this batch must stop.
func (r *PendingReplayer) renew(ctx context.Context) bool {
	if r.locker == nil {
		return true
	}
	ok, err := r.locker.Renew(ctx, replayResource, r.owner, r.lockTTL)
	if err != nil {
		logging.Error("replayer", "lock renewal failed", "error", err)
		return false
	}
	if !ok {
		logging.Warn("replayer", "lock lost, stopping batch", "owner", r.owner)
	}
	return ok
}
