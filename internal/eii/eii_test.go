package eii_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aikewa/govledger/internal/eii"
	"github.com/aikewa/govledger/internal/ledger"
)

func TestCalculate(t *testing.T) {
	cases := []struct {
		name    string
		metrics map[string]float64
		want    float64
	}{
		{"all perfect", map[string]float64{"security": 100, "accessibility": 100, "transparency": 100, "privacy": 100}, 100},
		{"missing accessibility penalised", map[string]float64{"security": 80, "transparency": 90, "privacy": 70}, 60},
		{"rounds to one decimal", map[string]float64{"security": 81, "accessibility": 82, "transparency": 81, "privacy": 81}, 81.3},
		{"a11y alias", map[string]float64{"a11y": 100}, 25},
		{"compliance preferred over privacy", map[string]float64{"compliance": 40, "privacy": 100}, 10},
		{"empty", nil, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, eii.Calculate(tc.metrics))
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, eii.Label{Value: "95.0", Color: "green", Label: "Excellent"}, eii.Format(95))
	assert.Equal(t, "blue", eii.Format(80).Color)
	assert.Equal(t, "Fair", eii.Format(70).Label)
	got := eii.Format(60)
	assert.Equal(t, "red", got.Color)
	assert.Equal(t, "Needs Improvement", got.Label)
}

func points(now time.Time, values ...float64) []*ledger.Entry {
	var out []*ledger.Entry
	for i, v := range values {
		v := v
		out = append(out, &ledger.Entry{Record: ledger.Record{
			ID:        "e",
			Timestamp: now.AddDate(0, 0, -len(values)+i),
			Type:      ledger.TypeEIIBaseline,
			EII:       &v,
			Commit:    "c",
		}})
	}
	return out
}

func TestBuildHistory_empty(t *testing.T) {
	h := eii.BuildHistory(nil, 90, time.Now())
	assert.Empty(t, h.DataPoints)
	assert.Empty(t, h.RollingAverage)
	assert.Zero(t, h.Current)
	assert.Zero(t, h.Average)
	assert.Equal(t, eii.TrendStable, h.Trend)
}

func TestBuildHistory_shortSeriesRollingIsRaw(t *testing.T) {
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	h := eii.BuildHistory(points(now, 70, 72, 74), 90, now)

	require.Len(t, h.RollingAverage, 3)
	assert.Equal(t, 72.0, h.RollingAverage[1].Average)
	assert.Equal(t, 74.0, h.Current)
	assert.Equal(t, 72.0, h.Average)
	assert.Equal(t, 70.0, h.Min)
	assert.Equal(t, 74.0, h.Max)
	assert.Equal(t, eii.TrendStable, h.Trend)
}

func TestBuildHistory_sevenPointRolling(t *testing.T) {
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	h := eii.BuildHistory(points(now, 70, 70, 70, 70, 70, 70, 77, 84), 90, now)

	require.Len(t, h.RollingAverage, 2)
	assert.Equal(t, 71.0, h.RollingAverage[0].Average)
	assert.Equal(t, 73.0, h.RollingAverage[1].Average)
	assert.Equal(t, eii.TrendUp, h.Trend)
}

func TestBuildHistory_trendDown(t *testing.T) {
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	h := eii.BuildHistory(points(now, 90, 90, 90, 80, 80, 80), 90, now)
	assert.Equal(t, eii.TrendDown, h.Trend)
}

func TestBuildHistory_windowFilters(t *testing.T) {
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	h := eii.BuildHistory(points(now, 50, 60, 70, 80), 2, now)
	require.Len(t, h.DataPoints, 2)
	assert.Equal(t, 70.0, h.DataPoints[0].EII)
}

func TestAggregator_computesMissingEII(t *testing.T) {
	store := ledger.NewMemoryStore(ledger.Governance, nil, zap.NewNop())
	_, err := store.Append(context.Background(), ledger.Record{
		Type:    ledger.TypeEIIBaseline,
		Commit:  "abc",
		Metrics: map[string]float64{"security": 90, "accessibility": 90, "transparency": 90, "privacy": 90},
	})
	require.NoError(t, err)
	_, err = store.Append(context.Background(), ledger.Record{Type: ledger.TypeGovernanceMilestone})
	require.NoError(t, err)

	agg := eii.NewAggregator(store, zap.NewNop())
	h, err := agg.History(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, h.DataPoints, 1)
	assert.Equal(t, 90.0, h.Current)
	assert.Equal(t, "abc", h.DataPoints[0].Commit)

	cur, breakdown, err := agg.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 90.0, cur)
	assert.Equal(t, 90.0, breakdown.Compliance)
}
