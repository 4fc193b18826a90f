package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cardsignal/internal/quota"
)

// SimulateAlert replays quota usage up to a target percentage against an
// in-memory counter so the alert path can be verified end to end.
func (a *App) SimulateAlert(ctx context.Context, targetPct float64) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	if targetPct <= 0 || targetPct > 100 {
		return fmt.Errorf("target percentage must be in (0,100], got %s", strconv.FormatFloat(targetPct, 'f', -1, 64))
	}

	limit := a.Config.Quota.DailyLimit
	target := int(float64(limit) * targetPct / 100)
	if target < 1 {
		target = 1
	}

	manager := quota.NewManager(quota.NewMemoryCounter(), quota.Options{
		DailyLimit: limit,
		Thresholds: quota.Thresholds{
			Warning:   a.Config.Quota.WarningPct,
			Critical:  a.Config.Quota.CriticalPct,
			Emergency: a.Config.Quota.EmergencyPct,
		},
		Location: a.Config.QuotaLocation(),
	}, a.quotaAlert(notifier, nil))

	a.Logger.Info().Int("requests", target).Int("limit", limit).Msg("simulating quota usage")

	for i := 0; i < target; i++ {
		if _, err := manager.RecordRequest(ctx, "/prices", true, 25*time.Millisecond); err != nil {
			return err
		}
	}

	snap, err := manager.Current(ctx)
	if err != nil {
		return err
	}
	a.Logger.Info().
		Str("status", string(snap.Status)).
		Int("used", snap.Used).
		Float64("percentage", snap.Percentage).
		Msg("simulation complete")
	return nil
}
