package consent_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aikewa/govledger/internal/consent"
	"github.com/aikewa/govledger/internal/ledger"
)

func newService(t *testing.T) *consent.Service {
	t.Helper()
	return consent.NewService(ledger.NewMemoryStore(ledger.Consent, nil, zap.NewNop()), zap.NewNop())
}

func record(t *testing.T, s *consent.Service, ts time.Time, user, event string, analytics bool) {
	t.Helper()
	_, err := s.Record(context.Background(), consent.Event{
		Timestamp:   ts,
		UserID:      user,
		Event:       event,
		Preferences: map[string]bool{"analytics": analytics},
	})
	require.NoError(t, err)
}

func TestMetrics_zeroUsers(t *testing.T) {
	m, err := newService(t).Metrics(context.Background())
	require.NoError(t, err)
	assert.Zero(t, m.TotalUsers)
	for _, c := range consent.Categories {
		assert.Zero(t, m.CategoryMetrics[c].Rate)
	}
	assert.Empty(t, m.TimeSeries)
	assert.Nil(t, m.LastUpdate)
}

func TestMetrics_twoUsersOneOptsIn(t *testing.T) {
	s := newService(t)
	day := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	record(t, s, day, "u_a", consent.EventGiven, true)
	record(t, s, day.Add(time.Hour), "u_b", consent.EventGiven, false)

	m, err := s.Metrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, m.TotalUsers)
	assert.Equal(t, 50.0, m.CategoryMetrics["analytics"].Rate)
	assert.Equal(t, 100.0, m.CategoryMetrics["essential"].Rate)
}

func TestRecord_backdatedEventRejected(t *testing.T) {
	s := newService(t)
	day := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	record(t, s, day, "u_a", consent.EventGiven, true)

	_, err := s.Record(context.Background(), consent.Event{Timestamp: day.Add(-time.Minute), UserID: "u_b", Event: consent.EventGiven})
	assert.ErrorIs(t, err, ledger.ErrOutOfOrder)

	m, err := s.Metrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, m.TotalEvents)
}

func TestMetrics_lastWriteWinsPerUser(t *testing.T) {
	s := newService(t)
	day := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	record(t, s, day, "u_a", consent.EventGiven, true)
	record(t, s, day.Add(24*time.Hour), "u_a", consent.EventUpdated, false)
	record(t, s, day.Add(48*time.Hour), "u_b", consent.EventGiven, true)
	record(t, s, day.Add(49*time.Hour), "u_b", consent.EventRevoked, false)

	m, err := s.Metrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, m.TotalEvents)
	assert.Equal(t, 2, m.TotalUsers)
	assert.Equal(t, 2, m.ConsentGiven)
	assert.Equal(t, 1, m.ConsentUpdated)
	assert.Equal(t, 1, m.ConsentRevoked)
	assert.Equal(t, consent.CategoryMetric{OptIn: 0, OptOut: 2, Rate: 0}, m.CategoryMetrics["analytics"])

	require.Len(t, m.TimeSeries, 3)
	assert.Equal(t, "2025-04-01", m.TimeSeries[0].Date)
	assert.Equal(t, "2025-04-03", m.TimeSeries[2].Date)
	assert.Equal(t, 1, m.TimeSeries[2].ConsentRevoked)
	require.NotNil(t, m.LastUpdate)
	assert.Equal(t, day.Add(49*time.Hour), *m.LastUpdate)
}

func TestRecord_rejectsIdentifyingIDs(t *testing.T) {
	s := newService(t)
	_, err := s.Record(context.Background(), consent.Event{UserID: "jane@example.com", Event: consent.EventGiven})
	assert.ErrorIs(t, err, consent.ErrIdentifyingUserID)

	_, err = s.Record(context.Background(), consent.Event{UserID: "192.168.1.4", Event: consent.EventGiven})
	assert.ErrorIs(t, err, consent.ErrIdentifyingUserID)
}

func TestRecord_rejectsUnknownEvent(t *testing.T) {
	_, err := newService(t).Record(context.Background(), consent.Event{UserID: "u", Event: "maybe"})
	assert.Error(t, err)
}

func TestRecord_acceptsPrefixedEvent(t *testing.T) {
	e, err := newService(t).Record(context.Background(), consent.Event{UserID: "u", Event: "consent_given"})
	require.NoError(t, err)
	assert.Equal(t, "consent_given", e.Type)
	assert.Equal(t, consent.EventGiven, e.Consent.Event)
}
