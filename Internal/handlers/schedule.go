package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// NextRun returns the first moment at or after now whose wall clock in
// now's location reads hhmm ("08:30").
func NextRun(now time.Time, hhmm string) (time.Time, error) {
	at, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad report time %q: %w", hhmm, err)
	}
	y, m, d := now.Date()
	next := time.Date(y, m, d, at.Hour(), at.Minute(), 0, 0, now.Location())
	if next.Before(now) {
		next = time.Date(y, m, d+1, at.Hour(), at.Minute(), 0, 0, now.Location())
	}
	return next, nil
}

// RunSchedule runs fn every day at hhmm until ctx is done. A failed run is
// logged and the loop waits for the next slot.
func RunSchedule(ctx context.Context, hhmm string, fn func(context.Context) error) error {
	log.Info().Str("at", hhmm).Msg("scheduler started")
	for {
		next, err := NextRun(time.Now(), hhmm)
		if err != nil {
			return err
		}
		log.Info().Time("next", next).Msg("waiting for next run")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-timer.C:
		}

		if err := fn(ctx); err != nil {
			log.Error().Err(err).Msg("scheduled run failed")
		}
	}
}
