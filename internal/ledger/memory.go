package ledger

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryStore is an in-memory, thread-safe Store. It is primarily useful
// for tests and dry runs that must not touch the data directory.
type MemoryStore struct {
	domain  Domain
	signer  Signer
	mu      sync.RWMutex
	entries []*Entry
	now     func() time.Time
	logger  *zap.Logger
}

// NewMemoryStore creates an empty MemoryStore for domain.
func NewMemoryStore(domain Domain, signer Signer, logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		domain: domain,
		signer: signer,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// SetClock overrides the time source used for records without a timestamp.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Domain implements Store.
func (m *MemoryStore) Domain() Domain { return m.domain }

// Append implements Store.
func (m *MemoryStore) Append(ctx context.Context, r Record) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := seal(m.domain, m.entries, r, m.now())
	if err != nil {
		return nil, err
	}
	signEntry(ctx, m.signer, entry, m.logger)
	m.entries = append(m.entries, entry)
	appendsTotal.WithLabelValues(string(m.domain)).Inc()
	return entry, nil
}

// Put stores e exactly as given, bypassing sealing. It lets tests build
// ledgers with deliberately broken entries.
func (m *MemoryStore) Put(e *Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

// ReadAll implements Store.
func (m *MemoryStore) ReadAll(_ context.Context) (*ReadResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Entry, len(m.entries))
	copy(out, m.entries)
	return &ReadResult{Entries: out}, nil
}

// ReadRecent implements Store.
func (m *MemoryStore) ReadRecent(ctx context.Context, n int) ([]*Entry, error) {
	res, err := m.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	return tail(res.Entries, n), nil
}
