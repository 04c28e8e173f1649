// Package ledger persists append-only, hash-sealed records, one JSON object
// per line and one file per domain.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aikewa/govledger/internal/merkle"
)

var (
	// ErrDuplicateID is returned by Append when the record's id already exists.
	ErrDuplicateID = errors.New("ledger: duplicate entry id")

	// ErrOutOfOrder is returned by Append when the record's timestamp is
	// earlier than the last entry's. Such a record would fail chronology
	// verification for the life of the ledger.
	ErrOutOfOrder = errors.New("ledger: timestamp precedes last entry")
)

// Store is an append-only ledger for a single domain.
// Both FileStore and MemoryStore implement this interface.
type Store interface {
	Domain() Domain

	// Append seals r (hash, Merkle root over every leaf plus the new one,
	// optional signature) and persists it. It writes nothing if r.ID is
	// already present.
	Append(ctx context.Context, r Record) (*Entry, error)

	// ReadAll returns every parseable entry. Lines that fail to parse are
	// reported in ReadResult.LineErrors rather than aborting the read.
	ReadAll(ctx context.Context) (*ReadResult, error)

	// ReadRecent returns at most n entries from the tail, oldest first.
	// n <= 0 returns no entries.
	ReadRecent(ctx context.Context, n int) ([]*Entry, error)
}

// Signer produces a detached signature over payload. Any error is treated
// as "no signature available" by the stores.
type Signer interface {
	Sign(ctx context.Context, payload []byte) (string, error)
}

// LineError describes a ledger line that could not be parsed.
type LineError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// ReadResult is the parsed content of a ledger.
type ReadResult struct {
	Entries    []*Entry
	LineErrors []LineError
}

// Root is the Merkle root over all parsed entries.
func (r *ReadResult) Root() string {
	return merkle.Root(Leaves(r.Entries))
}

// seal fills defaults on r and computes its integrity fields against the
// entries already present. It does not sign.
func seal(domain Domain, existing []*Entry, r Record, now time.Time) (*Entry, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	for _, e := range existing {
		if e.ID == r.ID {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, r.ID)
		}
	}
	var last time.Time
	if len(existing) > 0 {
		last = existing[len(existing)-1].Timestamp
	}
	switch {
	case r.Timestamp.IsZero():
		// A clock that stepped back must not break the ledger.
		r.Timestamp = now
		if r.Timestamp.Before(last) {
			r.Timestamp = last
		}
	case r.Timestamp.Before(last):
		return nil, fmt.Errorf("%w: %s at %s, last entry at %s", ErrOutOfOrder, r.ID,
			r.Timestamp.UTC().Format(time.RFC3339Nano), last.UTC().Format(time.RFC3339Nano))
	}
	r.Timestamp = r.Timestamp.UTC()
	if r.Type == "" {
		return nil, errors.New("ledger: entryType is required")
	}
	if domain.Chained() {
		if r.Block == "" {
			r.Block = r.ID
		}
		if r.Parent == "" && len(existing) > 0 {
			r.Parent = existing[len(existing)-1].BlockRef()
		}
	}

	h, err := HashRecord(r)
	if err != nil {
		return nil, err
	}
	leaves := append(Leaves(existing), h)
	return &Entry{
		Record:     r,
		Hash:       h,
		MerkleRoot: merkle.Root(leaves),
	}, nil
}

func tail(entries []*Entry, n int) []*Entry {
	if n <= 0 {
		return []*Entry{}
	}
	if n >= len(entries) {
		return entries
	}
	return entries[len(entries)-n:]
}
