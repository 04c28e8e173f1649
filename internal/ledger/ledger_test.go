package ledger_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aikewa/govledger/internal/ledger"
	"github.com/aikewa/govledger/internal/merkle"
)

type stubSigner struct {
	sig string
	err error
}

func (s stubSigner) Sign(_ context.Context, _ []byte) (string, error) { return s.sig, s.err }

func milestone(id string, ts time.Time) ledger.Record {
	return ledger.Record{
		ID:        id,
		Timestamp: ts,
		Commit:    "abc123",
		Type:      ledger.TypeGovernanceMilestone,
		Title:     "milestone " + id,
	}
}

func TestFileStore_missingFileIsEmpty(t *testing.T) {
	s := ledger.NewFileStore(t.TempDir(), ledger.Governance, ledger.FileOptions{}, zap.NewNop())

	res, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
	assert.Empty(t, res.LineErrors)
	assert.Equal(t, merkle.EmptyRoot, res.Root())
}

func TestFileStore_appendSealsEntries(t *testing.T) {
	ctx := context.Background()
	s := ledger.NewFileStore(t.TempDir(), ledger.Governance, ledger.FileOptions{}, zap.NewNop())
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	first, err := s.Append(ctx, milestone("m1", t0))
	require.NoError(t, err)
	assert.True(t, merkle.IsDigest(first.Hash))
	assert.Equal(t, first.Hash, first.MerkleRoot)
	assert.Nil(t, first.Signature)

	second, err := s.Append(ctx, milestone("m2", t0.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, merkle.Root([]string{first.Hash, second.Hash}), second.MerkleRoot)

	res, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, second.MerkleRoot, res.Root())

	recomputed, err := ledger.HashRecord(res.Entries[1].Record)
	require.NoError(t, err)
	assert.Equal(t, second.Hash, recomputed)
}

func TestFileStore_duplicateIDRejectedWithoutWrite(t *testing.T) {
	ctx := context.Background()
	s := ledger.NewFileStore(t.TempDir(), ledger.Governance, ledger.FileOptions{}, zap.NewNop())

	_, err := s.Append(ctx, milestone("dup", time.Now()))
	require.NoError(t, err)
	_, err = s.Append(ctx, milestone("dup", time.Now()))
	assert.True(t, errors.Is(err, ledger.ErrDuplicateID))

	res, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Entries, 1)
}

func TestFileStore_malformedLineReported(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := ledger.NewFileStore(dir, ledger.Governance, ledger.FileOptions{}, zap.NewNop())

	_, err := s.Append(ctx, milestone("ok", time.Now()))
	require.NoError(t, err)

	f, err := os.OpenFile(s.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	res, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Entries, 1)
	require.Len(t, res.LineErrors, 1)
	assert.Equal(t, 2, res.LineErrors[0].Line)
}

func TestFileStore_unreadableFileIsError(t *testing.T) {
	dir := t.TempDir()
	s := ledger.NewFileStore(dir, ledger.Governance, ledger.FileOptions{}, zap.NewNop())
	require.NoError(t, os.MkdirAll(s.Path(), 0o755)) // a directory cannot be scanned as a file

	_, err := s.ReadAll(context.Background())
	assert.Error(t, err)
}

func TestFileStore_signerUsedAndFailureTolerated(t *testing.T) {
	ctx := context.Background()
	signed := ledger.NewFileStore(t.TempDir(), ledger.Governance,
		ledger.FileOptions{Signer: stubSigner{sig: "c2ln"}}, zap.NewNop())
	e, err := signed.Append(ctx, milestone("s1", time.Now()))
	require.NoError(t, err)
	require.NotNil(t, e.Signature)
	assert.Equal(t, "c2ln", *e.Signature)

	broken := ledger.NewFileStore(t.TempDir(), ledger.Governance,
		ledger.FileOptions{Signer: stubSigner{err: errors.New("gpg missing")}}, zap.NewNop())
	e, err = broken.Append(ctx, milestone("s2", time.Now()))
	require.NoError(t, err)
	assert.Nil(t, e.Signature)
}

func TestFileStore_chainedDomainLinksParent(t *testing.T) {
	ctx := context.Background()
	s := ledger.NewFileStore(t.TempDir(), ledger.Federation, ledger.FileOptions{}, zap.NewNop())

	first, err := s.Append(ctx, ledger.Record{ID: "f1", Type: ledger.TypePartnerRegistration})
	require.NoError(t, err)
	assert.Empty(t, first.Parent)
	assert.Equal(t, "f1", first.Block)

	second, err := s.Append(ctx, ledger.Record{ID: "f2", Type: ledger.TypeWebhookNotification})
	require.NoError(t, err)
	assert.Equal(t, "f1", second.Parent)
}

func TestFileStore_readRecent(t *testing.T) {
	ctx := context.Background()
	s := ledger.NewFileStore(t.TempDir(), ledger.Governance, ledger.FileOptions{}, zap.NewNop())
	t0 := time.Now()
	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := s.Append(ctx, milestone(id, t0))
		require.NoError(t, err)
	}

	recent, err := s.ReadRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].ID)
	assert.Equal(t, "d", recent[1].ID)

	none, err := s.ReadRecent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAppend_rejectsBackdatedRecord(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := ledger.NewFileStore(dir, ledger.Governance, ledger.FileOptions{}, zap.NewNop())
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.Append(ctx, milestone("m1", t0))
	require.NoError(t, err)
	_, err = s.Append(ctx, milestone("m2", t0.Add(-time.Hour)))
	assert.True(t, errors.Is(err, ledger.ErrOutOfOrder), "got %v", err)

	_, err = s.Append(ctx, milestone("m3", t0))
	require.NoError(t, err, "equal timestamps are in order")

	res, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "m3", res.Entries[1].ID)
}

func TestAppend_clockStepBackKeepsOrder(t *testing.T) {
	ctx := context.Background()
	m := ledger.NewMemoryStore(ledger.Consent, nil, zap.NewNop())
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	m.SetClock(func() time.Time { return t0 })
	_, err := m.Append(ctx, ledger.Record{Type: "consent_given"})
	require.NoError(t, err)

	m.SetClock(func() time.Time { return t0.Add(-time.Second) })
	e, err := m.Append(ctx, ledger.Record{Type: "consent_given"})
	require.NoError(t, err)
	assert.True(t, e.Timestamp.Equal(t0))
}

func TestFileStore_concurrentWritersStayConsistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a := ledger.NewFileStore(dir, ledger.Federation, ledger.FileOptions{LockRetry: time.Millisecond}, zap.NewNop())
	b := ledger.NewFileStore(dir, ledger.Federation, ledger.FileOptions{LockRetry: time.Millisecond}, zap.NewNop())

	const perWriter = 20
	var wg sync.WaitGroup
	errs := make(chan error, 2*perWriter)
	for _, s := range []*ledger.FileStore{a, b} {
		wg.Add(1)
		go func(s *ledger.FileStore) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := s.Append(ctx, ledger.Record{Type: ledger.TypeWebhookNotification}); err != nil {
					errs <- err
				}
			}
		}(s)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("append: %v", err)
	}

	res, err := a.ReadAll(ctx)
	require.NoError(t, err)
	require.Empty(t, res.LineErrors)
	require.Len(t, res.Entries, 2*perWriter)

	var leaves []string
	for i, e := range res.Entries {
		h, err := ledger.HashRecord(e.Record)
		require.NoError(t, err)
		assert.Equal(t, h, e.Hash, "entry %d hash", i)
		leaves = append(leaves, e.Hash)
		assert.Equal(t, merkle.Root(leaves), e.MerkleRoot, "entry %d root", i)
		if i > 0 {
			prev := res.Entries[i-1]
			assert.False(t, e.Timestamp.Before(prev.Timestamp), "entry %d out of order", i)
			assert.Equal(t, prev.BlockRef(), e.Parent, "entry %d parent", i)
		}
	}
}

func TestFileStore_layout(t *testing.T) {
	dir := t.TempDir()
	s := ledger.NewFileStore(dir, ledger.TrustProofs, ledger.FileOptions{}, zap.NewNop())
	assert.Equal(t, filepath.Join(dir, "governance", "trust-proofs", "ledger.jsonl"), s.Path())
}

func TestAppend_requiresType(t *testing.T) {
	m := ledger.NewMemoryStore(ledger.Governance, nil, zap.NewNop())
	_, err := m.Append(context.Background(), ledger.Record{ID: "x"})
	assert.Error(t, err)
}

func TestMemoryStore_generatesID(t *testing.T) {
	m := ledger.NewMemoryStore(ledger.Consent, nil, zap.NewNop())
	e, err := m.Append(context.Background(), ledger.Record{Type: "consent_given"})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())
}

func TestParseDomain(t *testing.T) {
	d, err := ledger.ParseDomain("trust_proofs")
	require.NoError(t, err)
	assert.Equal(t, ledger.TrustProofs, d)

	_, err = ledger.ParseDomain("payroll")
	assert.Error(t, err)
}

func TestSigningPayload_coversIdentityFields(t *testing.T) {
	e := &ledger.Entry{
		Record:     ledger.Record{ID: "x", Timestamp: time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC), Commit: "c"},
		MerkleRoot: "r",
	}
	assert.JSONEq(t,
		`{"id":"x","timestamp":"2025-02-03T04:05:06Z","commit":"c","merkleRoot":"r"}`,
		string(ledger.SigningPayload(e)))
}
