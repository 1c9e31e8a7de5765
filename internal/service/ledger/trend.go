package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/opensharehq/pointsledger/internal/models"
	"github.com/opensharehq/pointsledger/internal/repository"
)

type TrendPoint struct {
	Day    time.Time
	Points int64
}

// TrendSeries reconstructs the day-by-day cumulative tag balance between
// start and end (inclusive, UTC days). The current balance is walked
// backward through the net daily deltas to find the balance at the range
// start, then forward again applying each day's delta. Intraday ordering is
// not modeled: a day has one closing value.
func (s *Service) TrendSeries(ctx context.Context, owner models.Owner, tag string, start, end time.Time) ([]TrendPoint, error) {
	start = utcDay(start)
	end = utcDay(end)
	if end.Before(start) {
		return nil, fmt.Errorf("invalid range: end %s before start %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}

	byTag, err := s.storage.Lot().BalanceByTag(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("can't get current tag balance: %w", err)
	}
	current := byTag[tag]

	deltas, err := s.storage.Transaction().TagDailyDeltas(ctx, owner, tag, start)
	if err != nil {
		return nil, fmt.Errorf("can't get daily deltas: %w", err)
	}

	return buildSeries(current, deltas, start, end), nil
}

// buildSeries derives the balance at the day before start by subtracting
// every known delta from the current balance, then walks forward.
func buildSeries(current int64, deltas []repository.DayDelta, start, end time.Time) []TrendPoint {
	byDay := make(map[time.Time]int64, len(deltas))
	running := current
	for _, d := range deltas {
		byDay[utcDay(d.Day)] += d.Points
		running -= d.Points
	}

	var series []TrendPoint
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		running += byDay[day]
		series = append(series, TrendPoint{Day: day, Points: running})
	}

	return series
}

func utcDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
