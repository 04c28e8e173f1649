package trustproof

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// ProofStore persists active proofs and revocations. Both logs are
// append-only.
type ProofStore interface {
	SaveActive(ctx context.Context, p ActiveProof) error
	Active(ctx context.Context, artifactID string) (*ActiveProof, error)
	ListActive(ctx context.Context) ([]ActiveProof, error)
	SaveRevocation(ctx context.Context, r Revocation) error
	Revocations(ctx context.Context, artifactID string) ([]Revocation, error)
}

// FileStore keeps proofs in active-proofs.jsonl and revoked-proofs.jsonl.
type FileStore struct {
	activePath  string
	revokedPath string
	mu          sync.Mutex
	logger      *zap.Logger
}

// NewFileStore creates a FileStore rooted at <dataDir>/governance/trust-proofs.
func NewFileStore(dataDir string, logger *zap.Logger) *FileStore {
	dir := filepath.Join(dataDir, "governance", "trust-proofs")
	return &FileStore{
		activePath:  filepath.Join(dir, "active-proofs.jsonl"),
		revokedPath: filepath.Join(dir, "revoked-proofs.jsonl"),
		logger:      logger,
	}
}

// SaveActive implements ProofStore.
func (s *FileStore) SaveActive(_ context.Context, p ActiveProof) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLine(s.activePath, p)
}

// Active implements ProofStore. The last record for an artifact wins.
func (s *FileStore) Active(ctx context.Context, artifactID string) (*ActiveProof, error) {
	all, err := s.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ArtifactID == artifactID {
			return &all[i], nil
		}
	}
	return nil, nil
}

// ListActive implements ProofStore. It returns the current proof for each
// artifact in first-issued order.
func (s *FileStore) ListActive(_ context.Context) ([]ActiveProof, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := readLines[ActiveProof](s.activePath, s.logger)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int)
	var out []ActiveProof
	for _, r := range records {
		if i, ok := index[r.ArtifactID]; ok {
			out[i] = r
			continue
		}
		index[r.ArtifactID] = len(out)
		out = append(out, r)
	}
	return out, nil
}

// SaveRevocation implements ProofStore.
func (s *FileStore) SaveRevocation(_ context.Context, r Revocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLine(s.revokedPath, r)
}

// Revocations implements ProofStore.
func (s *FileStore) Revocations(_ context.Context, artifactID string) ([]Revocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := readLines[Revocation](s.revokedPath, s.logger)
	if err != nil {
		return nil, err
	}
	var out []Revocation
	for _, r := range records {
		if r.ArtifactID == artifactID {
			out = append(out, r)
		}
	}
	return out, nil
}

func appendLine(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create proof dir: %w", err)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode proof record: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		f.Close() //nolint:errcheck
		return fmt.Errorf("append %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func readLines[T any](path string, logger *zap.Logger) ([]T, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close() //nolint:errcheck

	var out []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(scanner.Bytes(), &v); err != nil {
			logger.Warn("trustproof: malformed record", zap.String("file", filepath.Base(path)), zap.Int("line", line), zap.Error(err))
			continue
		}
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return out, nil
}
