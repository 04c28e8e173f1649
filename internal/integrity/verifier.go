// Package integrity certifies ledger contents, detects governance issues
// and records remediation against them.
package integrity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aikewa/govledger/internal/ledger"
	"github.com/aikewa/govledger/internal/merkle"
	"github.com/aikewa/govledger/internal/signing"
)

// Failure is one violation found on one axis.
type Failure struct {
	Index   int    `json:"index"`
	EntryID string `json:"entry_id,omitempty"`
	Message string `json:"message"`
}

// Axis is the outcome of one independent check.
type Axis struct {
	Passed   bool      `json:"passed"`
	Failures []Failure `json:"failures,omitempty"`
}

func (a *Axis) fail(i int, id, format string, args ...any) {
	a.Passed = false
	a.Failures = append(a.Failures, Failure{Index: i, EntryID: id, Message: fmt.Sprintf(format, args...)})
}

// SignatureAxis extends Axis with signing counts.
type SignatureAxis struct {
	Axis
	Signed       int `json:"signed"`
	Unsigned     int `json:"unsigned"`
	Unverifiable int `json:"unverifiable"`
}

// Report is the result of verifying one domain.
type Report struct {
	Domain       ledger.Domain `json:"domain"`
	Verified     bool          `json:"verified"`
	TotalEntries int           `json:"totalEntries"`
	MerkleRoot   string        `json:"merkleRoot"`
	LastUpdate   *time.Time    `json:"lastUpdate"`

	Structure  Axis          `json:"structure"`
	Chronology Axis          `json:"chronology"`
	Hashes     Axis          `json:"hashes"`
	Signatures SignatureAxis `json:"signatures"`

	Continuity *ContinuityResult `json:"continuity,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`

	entries []*ledger.Entry
}

// Entries returns the parsed entries the report was computed over.
func (r *Report) Entries() []*ledger.Entry { return r.entries }

// Options tune a Verifier.
type Options struct {
	// SignatureVerifier checks present signatures. When nil, signatures are
	// counted but not checked.
	SignatureVerifier signing.Verifier
	// RequireSignatures turns unsigned entries into failures.
	RequireSignatures bool
	// SkipContent disables recomputing each entry's hash and Merkle root.
	SkipContent bool
}

// Verifier certifies ledger stores.
type Verifier struct {
	opts   Options
	logger *zap.Logger
}

// NewVerifier creates a Verifier.
func NewVerifier(opts Options, logger *zap.Logger) *Verifier {
	return &Verifier{opts: opts, logger: logger}
}

// Verify reads every entry in store and checks structure, chronology, hash
// format and signatures. Each axis reports all of its violations. Storage
// errors are returned; content problems never are.
func (v *Verifier) Verify(ctx context.Context, store ledger.Store) (*Report, error) {
	res, err := store.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", store.Domain(), err)
	}
	return v.VerifyEntries(ctx, store.Domain(), res), nil
}

// VerifyEntries runs the checks over an already-read ledger.
func (v *Verifier) VerifyEntries(ctx context.Context, domain ledger.Domain, res *ledger.ReadResult) *Report {
	entries := res.Entries
	rep := &Report{
		Domain:       domain,
		TotalEntries: len(entries),
		MerkleRoot:   res.Root(),
		Structure:    Axis{Passed: true},
		Chronology:   Axis{Passed: true},
		Hashes:       Axis{Passed: true},
		Signatures:   SignatureAxis{Axis: Axis{Passed: true}},
		entries:      entries,
	}

	for _, le := range res.LineErrors {
		rep.Structure.fail(le.Line-1, "", "line %d: unparseable: %s", le.Line, le.Message)
	}

	leaves := make([]string, 0, len(entries))
	for i, e := range entries {
		v.checkStructure(rep, i, e)
		if i > 0 && e.Timestamp.Before(entries[i-1].Timestamp) {
			rep.Chronology.fail(i, e.ID, "timestamp %s precedes previous entry %s",
				e.Timestamp.Format(time.RFC3339Nano), entries[i-1].Timestamp.Format(time.RFC3339Nano))
		}

		leaves = append(leaves, e.Hash)
		v.checkHashes(rep, i, e, leaves)
		v.checkSignature(ctx, rep, i, e)

		if rep.LastUpdate == nil || e.Timestamp.After(*rep.LastUpdate) {
			ts := e.Timestamp
			rep.LastUpdate = &ts
		}
	}

	if rep.Signatures.Unsigned > 0 && !v.opts.RequireSignatures {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("%d unsigned entries", rep.Signatures.Unsigned))
	}
	if rep.Signatures.Unverifiable > 0 {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("%d signatures not checked: no verifier configured", rep.Signatures.Unverifiable))
	}

	if domain.Chained() {
		c := CheckContinuity(entries)
		rep.Continuity = &c
	}

	rep.Verified = rep.Structure.Passed && rep.Chronology.Passed &&
		rep.Hashes.Passed && rep.Signatures.Passed
	if !rep.Verified {
		v.logger.Warn("integrity: ledger verification failed",
			zap.String("ledger", string(domain)),
			zap.Int("structure_failures", len(rep.Structure.Failures)),
			zap.Int("chronology_failures", len(rep.Chronology.Failures)),
			zap.Int("hash_failures", len(rep.Hashes.Failures)),
			zap.Int("signature_failures", len(rep.Signatures.Failures)),
		)
	}
	return rep
}

func (v *Verifier) checkStructure(rep *Report, i int, e *ledger.Entry) {
	var missing []string
	if e.ID == "" {
		missing = append(missing, "id")
	}
	if e.Timestamp.IsZero() {
		missing = append(missing, "timestamp")
	}
	if e.Type == "" {
		missing = append(missing, "entryType")
	}
	if e.Hash == "" {
		missing = append(missing, "hash")
	}
	if e.MerkleRoot == "" {
		missing = append(missing, "merkleRoot")
	}
	if len(missing) > 0 {
		rep.Structure.fail(i, e.ID, "missing required fields %v", missing)
	}
}

func (v *Verifier) checkHashes(rep *Report, i int, e *ledger.Entry, leaves []string) {
	formatOK := true
	if !merkle.IsDigest(e.Hash) {
		rep.Hashes.fail(i, e.ID, "hash %q is not a 64-char lowercase hex digest", e.Hash)
		formatOK = false
	}
	if !merkle.IsDigest(e.MerkleRoot) {
		rep.Hashes.fail(i, e.ID, "merkleRoot %q is not a 64-char lowercase hex digest", e.MerkleRoot)
		formatOK = false
	}
	if v.opts.SkipContent || !formatOK {
		return
	}

	want, err := ledger.HashRecord(e.Record)
	if err != nil {
		rep.Hashes.fail(i, e.ID, "cannot recompute hash: %v", err)
		return
	}
	if want != e.Hash {
		rep.Hashes.fail(i, e.ID, "content hash mismatch")
	}
	if root := merkle.Root(leaves); root != e.MerkleRoot {
		rep.Hashes.fail(i, e.ID, "merkleRoot does not match the leaf set at this position")
	}
}

func (v *Verifier) checkSignature(ctx context.Context, rep *Report, i int, e *ledger.Entry) {
	if !e.Signed() {
		rep.Signatures.Unsigned++
		if v.opts.RequireSignatures {
			rep.Signatures.fail(i, e.ID, "entry is unsigned")
		}
		return
	}
	rep.Signatures.Signed++
	if v.opts.SignatureVerifier == nil {
		rep.Signatures.Unverifiable++
		return
	}

	err := v.opts.SignatureVerifier.Verify(ctx, ledger.SigningPayload(e), *e.Signature)
	switch {
	case err == nil:
	case errors.Is(err, signing.ErrUnavailable):
		rep.Signatures.Unverifiable++
	default:
		rep.Signatures.fail(i, e.ID, "signature invalid: %v", err)
	}
}

// SetReport is the result of verifying several domains.
type SetReport struct {
	Verified         bool                      `json:"verified"`
	GlobalMerkleRoot string                    `json:"global_merkle_root"`
	TotalEntries     int                       `json:"totalEntries"`
	LastUpdate       *time.Time                `json:"lastUpdate"`
	Ledgers          map[ledger.Domain]*Report `json:"ledgers"`
}

// VerifySet verifies every domain in set. The global root always covers
// all domains regardless of which were requested.
func (v *Verifier) VerifySet(ctx context.Context, set *ledger.Set) (*SetReport, error) {
	out := &SetReport{Verified: true, Ledgers: make(map[ledger.Domain]*Report, len(ledger.Domains))}
	roots := make(map[ledger.Domain]string, len(ledger.Domains))

	for _, d := range ledger.Domains {
		rep, err := v.Verify(ctx, set.Store(d))
		if err != nil {
			return nil, err
		}
		out.Ledgers[d] = rep
		roots[d] = rep.MerkleRoot
		out.Verified = out.Verified && rep.Verified
		out.TotalEntries += rep.TotalEntries
		if rep.LastUpdate != nil && (out.LastUpdate == nil || rep.LastUpdate.After(*out.LastUpdate)) {
			out.LastUpdate = rep.LastUpdate
		}
	}
	out.GlobalMerkleRoot = GlobalRoot(roots)
	return out, nil
}

// GlobalRoot folds per-domain roots in ledger.Domains order. A domain with
// no root contributes the empty-tree root.
func GlobalRoot(roots map[ledger.Domain]string) string {
	ordered := make([]string, 0, len(ledger.Domains))
	for _, d := range ledger.Domains {
		r := roots[d]
		if r == "" {
			r = merkle.EmptyRoot
		}
		ordered = append(ordered, r)
	}
	return merkle.Combine(ordered...)
}
