package ledger

import (
	"fmt"

	"go.uber.org/zap"
)

// Set groups one Store per domain.
type Set struct {
	stores map[Domain]Store
}

// NewSet builds a Set from explicit stores. Every domain must be present.
func NewSet(stores ...Store) (*Set, error) {
	s := &Set{stores: make(map[Domain]Store, len(stores))}
	for _, st := range stores {
		s.stores[st.Domain()] = st
	}
	for _, d := range Domains {
		if _, ok := s.stores[d]; !ok {
			return nil, fmt.Errorf("ledger set: missing store for %s", d)
		}
	}
	return s, nil
}

// OpenFileSet opens a FileStore for every domain under dir.
func OpenFileSet(dir string, opts FileOptions, logger *zap.Logger) *Set {
	s := &Set{stores: make(map[Domain]Store, len(Domains))}
	for _, d := range Domains {
		s.stores[d] = NewFileStore(dir, d, opts, logger)
	}
	return s
}

// NewMemorySet creates a MemoryStore for every domain.
func NewMemorySet(signer Signer, logger *zap.Logger) *Set {
	s := &Set{stores: make(map[Domain]Store, len(Domains))}
	for _, d := range Domains {
		s.stores[d] = NewMemoryStore(d, signer, logger)
	}
	return s
}

// Store returns the store for d.
func (s *Set) Store(d Domain) Store {
	return s.stores[d]
}
