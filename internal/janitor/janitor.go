// Package janitor runs the two periodic maintenance jobs: the idle
// session sweep and the retention purge of delivered queue entries and
// old notification records.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"chatrelay/pkg/config"
	"chatrelay/pkg/delivery"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/store"
)

// Janitor owns the sweep ticker and the purge scheduler. It is the only
// component that transitions users offline without an explicit
// unregister.
type Janitor struct {
	hub *delivery.Hub
	cfg config.DeliveryConfig
	jc  config.JanitorConfig

	cancel context.CancelFunc
}

func New(hub *delivery.Hub, cfg config.DeliveryConfig, jc config.JanitorConfig) *Janitor {
	return &Janitor{hub: hub, cfg: cfg, jc: jc}
}

// Start launches the sweep ticker and, when enabled, the cron purge
// scheduler. Stop cancels both.
func (j *Janitor) Start(ctx context.Context) error {
	ctx, j.cancel = context.WithCancel(ctx)

	go j.runSweep(ctx)

	if !j.jc.Enabled {
		logger.Info("janitor_purge_disabled")
		return nil
	}
	cronExpr := j.jc.Cron
	if cronExpr == "" {
		cronExpr = "0 3 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		return fmt.Errorf("invalid janitor cron expression: %s", j.jc.Cron)
	}
	logger.Info("janitor_purge_enabled", "cron", cronExpr,
		"queue_retention", j.cfg.QueueRetention.Duration().String(),
		"notif_retention", j.cfg.NotifRetention.Duration().String())
	go j.runPurgeScheduler(ctx, cronExpr)
	return nil
}

// Stop cancels the background jobs.
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
}

// RunNow performs one sweep and one purge synchronously. Admin hook.
func (j *Janitor) RunNow() (int, int, int) {
	expired := j.hub.ExpireIdleSessions(time.Now())
	entries, notifs := j.purgeOnce()
	return expired, entries, notifs
}

func (j *Janitor) runSweep(ctx context.Context) {
	t := time.NewTicker(j.cfg.SessionSweep.Duration())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("janitor_sweep_stopping")
			return
		case now := <-t.C:
			if n := j.hub.ExpireIdleSessions(now); n > 0 {
				logger.Info("janitor_sessions_expired", "count", n)
			}
		}
	}
}

func (j *Janitor) runPurgeScheduler(ctx context.Context, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("janitor_purge_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("janitor_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			j.purgeOnce()
		case <-ctx.Done():
			logger.Info("janitor_purge_stopping")
			return
		}
	}
}

// purgeOnce removes delivered queue entries older than the queue
// retention window and notification records older than the notification
// retention window. Partial failures are logged, not fatal.
func (j *Janitor) purgeOnce() (int, int) {
	now := time.Now().UTC()

	entries, err := j.hub.Queue.PurgeDelivered(now.Add(-j.cfg.QueueRetention.Duration()))
	if err != nil {
		logger.Error("janitor_queue_purge_failed", "error", err)
	}

	notifs, err := store.PurgeNotifications(now.Add(-j.cfg.NotifRetention.Duration()))
	if err != nil {
		logger.Error("janitor_notif_purge_failed", "error", err)
	}

	logger.Info("janitor_purge_done", "entries", entries, "notifications", notifs)
	return entries, notifs
}
