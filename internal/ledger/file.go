package ledger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

const maxLineBytes = 5 * 1024 * 1024

// FileOptions configures a FileStore.
type FileOptions struct {
	// Signer signs each appended entry. Nil stores every entry unsigned.
	Signer Signer
	// DisableLock skips the advisory lock file. The in-process mutex still
	// serialises appends from this process.
	DisableLock bool
	// LockRetry is the polling interval while waiting for the lock.
	LockRetry time.Duration
}

// FileStore is a Store backed by a JSON-lines file. Appends from this
// process are serialised by a mutex and appends across processes by an
// advisory lock on "<path>.lock".
type FileStore struct {
	domain Domain
	path   string
	opts   FileOptions
	lock   *flock.Flock
	mu     sync.Mutex
	now    func() time.Time
	logger *zap.Logger
}

// NewFileStore creates a FileStore for domain rooted at dir.
func NewFileStore(dir string, domain Domain, opts FileOptions, logger *zap.Logger) *FileStore {
	path := filepath.Join(dir, domain.RelPath())
	if opts.LockRetry == 0 {
		opts.LockRetry = 25 * time.Millisecond
	}
	s := &FileStore{
		domain: domain,
		path:   path,
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(zap.String("ledger", string(domain))),
	}
	if !opts.DisableLock {
		s.lock = flock.New(path + ".lock")
	}
	return s
}

// Domain implements Store.
func (s *FileStore) Domain() Domain { return s.domain }

// Path returns the ledger file location.
func (s *FileStore) Path() string { return s.path }

// Append implements Store.
func (s *FileStore) Append(ctx context.Context, r Record) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	if s.lock != nil {
		locked, err := s.lock.TryLockContext(ctx, s.opts.LockRetry)
		if err != nil {
			return nil, fmt.Errorf("acquire ledger lock: %w", err)
		}
		if !locked {
			return nil, errors.New("acquire ledger lock: not acquired")
		}
		defer s.lock.Unlock() //nolint:errcheck
	}

	existing, err := s.read()
	if err != nil {
		return nil, err
	}

	entry, err := seal(s.domain, existing.Entries, r, s.now())
	if err != nil {
		return nil, err
	}
	signEntry(ctx, s.opts.Signer, entry, s.logger)

	if err := s.write(entry); err != nil {
		return nil, err
	}
	appendsTotal.WithLabelValues(string(s.domain)).Inc()
	return entry, nil
}

// ReadAll implements Store.
func (s *FileStore) ReadAll(_ context.Context) (*ReadResult, error) {
	return s.read()
}

// ReadRecent implements Store.
func (s *FileStore) ReadRecent(ctx context.Context, n int) ([]*Entry, error) {
	res, err := s.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	return tail(res.Entries, n), nil
}

func (s *FileStore) read() (*ReadResult, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &ReadResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", s.domain, err)
	}
	defer f.Close() //nolint:errcheck

	res := &ReadResult{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			s.logger.Warn("ledger: malformed line", zap.Int("line", line), zap.Error(err))
			res.LineErrors = append(res.LineErrors, LineError{Line: line, Message: err.Error()})
			continue
		}
		res.Entries = append(res.Entries, &e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", s.domain, err)
	}
	return res, nil
}

func (s *FileStore) write(e *Entry) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger for append: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close() //nolint:errcheck
		return fmt.Errorf("append entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close() //nolint:errcheck
		return fmt.Errorf("sync ledger: %w", err)
	}
	return f.Close()
}

func signEntry(ctx context.Context, signer Signer, e *Entry, logger *zap.Logger) {
	if signer == nil {
		return
	}
	sig, err := signer.Sign(ctx, SigningPayload(e))
	if err != nil || sig == "" {
		logger.Warn("ledger: signature unavailable, storing unsigned entry",
			zap.String("id", e.ID),
			zap.Error(err),
		)
		return
	}
	e.Signature = &sig
}
