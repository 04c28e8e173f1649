package eii

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aikewa/govledger/internal/ledger"
)

const (
	// DefaultDays is the history window used when none is given.
	DefaultDays   = 90
	rollingWindow = 7
	trendSpan     = 3
	trendDelta    = 2.0
)

// Trend directions.
const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

// DataPoint is one index observation.
type DataPoint struct {
	Date    string             `json:"date"`
	EII     float64            `json:"eii"`
	Metrics map[string]float64 `json:"metrics"`
	Commit  string             `json:"commit"`
}

// RollingPoint is one rolling-average value.
type RollingPoint struct {
	Date    string  `json:"date"`
	Average float64 `json:"average"`
}

// History summarises index observations over a trailing window.
type History struct {
	DataPoints     []DataPoint    `json:"dataPoints"`
	RollingAverage []RollingPoint `json:"rollingAverage"`
	Current        float64        `json:"current"`
	Average        float64        `json:"average"`
	Min            float64        `json:"min"`
	Max            float64        `json:"max"`
	Trend          string         `json:"trend"`
}

// Points extracts index observations from ledger entries. Entries with an
// explicit eii value are used as is; entries with metrics but no eii have
// it computed.
func Points(entries []*ledger.Entry) []DataPoint {
	var out []DataPoint
	for _, e := range entries {
		var v float64
		switch {
		case e.EII != nil:
			v = *e.EII
		case e.Type == ledger.TypeEIIBaseline && len(e.Metrics) > 0:
			v = Calculate(e.Metrics)
		default:
			continue
		}
		out = append(out, DataPoint{
			Date:    e.Timestamp.UTC().Format("2006-01-02"),
			EII:     v,
			Metrics: e.Metrics,
			Commit:  e.Commit,
		})
	}
	return out
}

// BuildHistory filters entries to those at or after now-days and derives
// the rolling average, extremes and trend.
func BuildHistory(entries []*ledger.Entry, days int, now time.Time) History {
	if days <= 0 {
		days = DefaultDays
	}
	cutoff := now.AddDate(0, 0, -days)

	var recent []*ledger.Entry
	for _, e := range entries {
		if !e.Timestamp.Before(cutoff) {
			recent = append(recent, e)
		}
	}

	points := Points(recent)
	h := History{
		DataPoints:     points,
		RollingAverage: rolling(points, rollingWindow),
		Trend:          TrendStable,
	}
	if h.DataPoints == nil {
		h.DataPoints = []DataPoint{}
	}
	if len(points) == 0 {
		return h
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.EII
	}
	h.Current = values[len(values)-1]
	h.Min, h.Max = values[0], values[0]
	sum := 0.0
	for _, v := range values {
		sum += v
		if v < h.Min {
			h.Min = v
		}
		if v > h.Max {
			h.Max = v
		}
	}
	h.Average = round1(sum / float64(len(values)))
	h.Trend = trend(values)
	return h
}

func rolling(points []DataPoint, window int) []RollingPoint {
	out := []RollingPoint{}
	if len(points) < window {
		for _, p := range points {
			out = append(out, RollingPoint{Date: p.Date, Average: round1(p.EII)})
		}
		return out
	}
	for i := window - 1; i < len(points); i++ {
		sum := 0.0
		for _, p := range points[i-window+1 : i+1] {
			sum += p.EII
		}
		out = append(out, RollingPoint{Date: points[i].Date, Average: round1(sum / float64(window))})
	}
	return out
}

func trend(values []float64) string {
	if len(values) < 2 {
		return TrendStable
	}
	n := trendSpan
	if len(values) < n {
		n = len(values)
	}
	recent, older := mean(values[len(values)-n:]), mean(values[:n])
	switch {
	case recent > older+trendDelta:
		return TrendUp
	case recent < older-trendDelta:
		return TrendDown
	}
	return TrendStable
}

func mean(vs []float64) float64 {
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

// Aggregator reads index observations from the governance ledger.
type Aggregator struct {
	store  ledger.Store
	now    func() time.Time
	logger *zap.Logger
}

// NewAggregator creates an Aggregator over store.
func NewAggregator(store ledger.Store, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// SetClock overrides the aggregator's time source.
func (a *Aggregator) SetClock(now func() time.Time) { a.now = now }

// History returns the trailing-window history.
func (a *Aggregator) History(ctx context.Context, days int) (History, error) {
	res, err := a.store.ReadAll(ctx)
	if err != nil {
		return History{}, fmt.Errorf("eii history: %w", err)
	}
	if len(res.LineErrors) > 0 {
		a.logger.Warn("eii: skipping malformed ledger lines", zap.Int("count", len(res.LineErrors)))
	}
	return BuildHistory(res.Entries, days, a.now()), nil
}

// Current returns the most recent index value and its category breakdown.
func (a *Aggregator) Current(ctx context.Context) (float64, Breakdown, error) {
	res, err := a.store.ReadAll(ctx)
	if err != nil {
		return 0, Breakdown{}, fmt.Errorf("eii current: %w", err)
	}
	points := Points(res.Entries)
	if len(points) == 0 {
		return 0, Breakdown{}, nil
	}
	last := points[len(points)-1]
	return last.EII, Resolve(last.Metrics), nil
}
