// Package consent records pseudonymous consent decisions and aggregates
// them into privacy-preserving tallies.
package consent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aikewa/govledger/internal/ledger"
	"github.com/aikewa/govledger/internal/privacy"
)

// Event kinds.
const (
	EventGiven   = "given"
	EventUpdated = "updated"
	EventRevoked = "revoked"
)

// Categories lists the consent categories in display order.
var Categories = []string{"essential", "analytics", "performance"}

// ErrIdentifyingUserID is returned when a user id looks like real personal data.
var ErrIdentifyingUserID = errors.New("consent: user id must be pseudonymous")

// Event is one consent decision.
type Event struct {
	Timestamp     time.Time
	UserID        string
	Event         string
	Preferences   map[string]bool
	PolicyVersion string
}

// CategoryMetric is the opt-in tally for one category.
type CategoryMetric struct {
	OptIn  int     `json:"optIn"`
	OptOut int     `json:"optOut"`
	Rate   float64 `json:"rate"`
}

// DayCount is one day of event counts.
type DayCount struct {
	Date           string `json:"date"`
	ConsentGiven   int    `json:"consentGiven"`
	ConsentRevoked int    `json:"consentRevoked"`
	ConsentUpdated int    `json:"consentUpdated"`
}

// Metrics is the aggregate view of the consent ledger. It never contains
// user identifiers.
type Metrics struct {
	TotalEvents     int                       `json:"totalEvents"`
	TotalUsers      int                       `json:"totalUsers"`
	ConsentGiven    int                       `json:"consentGiven"`
	ConsentRevoked  int                       `json:"consentRevoked"`
	ConsentUpdated  int                       `json:"consentUpdated"`
	CategoryMetrics map[string]CategoryMetric `json:"categoryMetrics"`
	TimeSeries      []DayCount                `json:"timeSeriesData"`
	LastUpdate      *time.Time                `json:"lastUpdate"`
}

// normalizeEvent accepts both "given" and "consent_given" spellings.
func normalizeEvent(s string) string {
	return strings.TrimPrefix(s, ledger.TypeConsentPrefix)
}

// Aggregate tallies consent entries. Category rates use only each user's
// most recent preferences; with no users every rate is 0.
func Aggregate(entries []*ledger.Entry) Metrics {
	m := Metrics{
		CategoryMetrics: make(map[string]CategoryMetric, len(Categories)),
		TimeSeries:      []DayCount{},
	}
	for _, c := range Categories {
		m.CategoryMetrics[c] = CategoryMetric{}
	}

	latest := make(map[string]map[string]bool)
	days := make(map[string]*DayCount)

	for _, e := range entries {
		if e.Consent == nil {
			continue
		}
		m.TotalEvents++
		latest[e.Consent.UserID] = e.Consent.Preferences

		date := e.Timestamp.UTC().Format("2006-01-02")
		day, ok := days[date]
		if !ok {
			day = &DayCount{Date: date}
			days[date] = day
		}

		switch normalizeEvent(e.Consent.Event) {
		case EventGiven:
			m.ConsentGiven++
			day.ConsentGiven++
		case EventRevoked:
			m.ConsentRevoked++
			day.ConsentRevoked++
		case EventUpdated:
			m.ConsentUpdated++
			day.ConsentUpdated++
		}

		if m.LastUpdate == nil || e.Timestamp.After(*m.LastUpdate) {
			ts := e.Timestamp
			m.LastUpdate = &ts
		}
	}

	m.TotalUsers = len(latest)
	for _, c := range Categories {
		cm := CategoryMetric{}
		for _, prefs := range latest {
			if prefs[c] {
				cm.OptIn++
			} else {
				cm.OptOut++
			}
		}
		if m.TotalUsers > 0 {
			cm.Rate = float64(cm.OptIn) / float64(m.TotalUsers) * 100
		}
		m.CategoryMetrics[c] = cm
	}

	for _, d := range days {
		m.TimeSeries = append(m.TimeSeries, *d)
	}
	sort.Slice(m.TimeSeries, func(i, j int) bool { return m.TimeSeries[i].Date < m.TimeSeries[j].Date })
	return m
}

// Service appends consent decisions and serves aggregates.
type Service struct {
	store  ledger.Store
	logger *zap.Logger
}

// NewService creates a Service over the consent ledger.
func NewService(store ledger.Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Record validates ev and appends it to the consent ledger.
func (s *Service) Record(ctx context.Context, ev Event) (*ledger.Entry, error) {
	kind := normalizeEvent(ev.Event)
	switch kind {
	case EventGiven, EventUpdated, EventRevoked:
	default:
		return nil, fmt.Errorf("consent: unknown event %q", ev.Event)
	}
	if ev.UserID == "" {
		return nil, errors.New("consent: user id is required")
	}
	if privacy.ContainsPII(ev.UserID) {
		return nil, ErrIdentifyingUserID
	}

	prefs := make(map[string]bool, len(Categories))
	for _, c := range Categories {
		prefs[c] = ev.Preferences[c]
	}
	prefs["essential"] = true

	e, err := s.store.Append(ctx, ledger.Record{
		Timestamp: ev.Timestamp,
		Type:      ledger.TypeConsentPrefix + kind,
		Consent: &ledger.ConsentPayload{
			UserID:        ev.UserID,
			Event:         kind,
			Preferences:   prefs,
			PolicyVersion: ev.PolicyVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("record consent: %w", err)
	}
	return e, nil
}

// Metrics aggregates the full consent ledger.
func (s *Service) Metrics(ctx context.Context) (Metrics, error) {
	res, err := s.store.ReadAll(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("consent metrics: %w", err)
	}
	if len(res.LineErrors) > 0 {
		s.logger.Warn("consent: skipping malformed ledger lines", zap.Int("count", len(res.LineErrors)))
	}
	return Aggregate(res.Entries), nil
}
