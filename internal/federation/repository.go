package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Registry persists the partner directory.
type Registry interface {
	Create(ctx context.Context, p *Partner) error
	Get(ctx context.Context, partnerID string) (*Partner, error)
	List(ctx context.Context) ([]*Partner, error)
	SetActive(ctx context.Context, partnerID string, active bool) error
}

// ── File registry ────────────────────────────────────────────────────────

type partnerFile struct {
	Partners []*Partner `json:"partners"`
}

// FileRegistry keeps partners in a JSON document of the form
// {"partners": [...]}. Writes replace the file atomically.
type FileRegistry struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewFileRegistry creates a FileRegistry. A missing file is an empty
// directory.
func NewFileRegistry(path string, logger *zap.Logger) *FileRegistry {
	return &FileRegistry{path: path, logger: logger}
}

// Create implements Registry.
func (r *FileRegistry) Create(_ context.Context, p *Partner) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return err
	}
	for _, existing := range doc.Partners {
		if existing.PartnerID == p.PartnerID {
			return ErrDuplicatePartner
		}
	}
	doc.Partners = append(doc.Partners, p)
	return r.save(doc)
}

// Get implements Registry.
func (r *FileRegistry) Get(_ context.Context, partnerID string) (*Partner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return nil, err
	}
	for _, p := range doc.Partners {
		if p.PartnerID == partnerID {
			return p, nil
		}
	}
	return nil, ErrPartnerNotFound
}

// List implements Registry.
func (r *FileRegistry) List(_ context.Context) ([]*Partner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return nil, err
	}
	return doc.Partners, nil
}

// SetActive implements Registry.
func (r *FileRegistry) SetActive(_ context.Context, partnerID string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return err
	}
	for _, p := range doc.Partners {
		if p.PartnerID == partnerID {
			p.Active = active
			return r.save(doc)
		}
	}
	return ErrPartnerNotFound
}

func (r *FileRegistry) load() (*partnerFile, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &partnerFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read partner registry: %w", err)
	}
	var doc partnerFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode partner registry %s: %w", r.path, err)
	}
	return &doc, nil
}

func (r *FileRegistry) save(doc *partnerFile) error {
	sort.SliceStable(doc.Partners, func(i, j int) bool {
		return doc.Partners[i].AddedAt.Before(doc.Partners[j].AddedAt)
	})
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write partner registry: %w", err)
	}
	return os.Rename(tmp, r.path)
}

// ── Postgres registry ────────────────────────────────────────────────────

// PostgresRegistry stores partners in the federation_partners table.
type PostgresRegistry struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresRegistry creates a PostgresRegistry.
func NewPostgresRegistry(pool *pgxpool.Pool, logger *zap.Logger) *PostgresRegistry {
	return &PostgresRegistry{pool: pool, logger: logger}
}

const partnerColumns = `partner_id, display_name, governance_endpoint, webhook_secret, stale_threshold_days, active, added_at`

// Create implements Registry.
func (r *PostgresRegistry) Create(ctx context.Context, p *Partner) error {
	const q = `
		INSERT INTO federation_partners (` + partnerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, q,
		p.PartnerID,
		p.DisplayName,
		p.GovernanceEndpoint,
		p.WebhookSecret,
		p.StaleThresholdDays,
		p.Active,
		p.AddedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicatePartner
	}
	return err
}

// Get implements Registry.
func (r *PostgresRegistry) Get(ctx context.Context, partnerID string) (*Partner, error) {
	const q = `SELECT ` + partnerColumns + ` FROM federation_partners WHERE partner_id = $1`
	return r.scan(r.pool.QueryRow(ctx, q, partnerID))
}

// List implements Registry.
func (r *PostgresRegistry) List(ctx context.Context) ([]*Partner, error) {
	const q = `SELECT ` + partnerColumns + ` FROM federation_partners ORDER BY added_at`

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list partners: %w", err)
	}
	defer rows.Close()

	var out []*Partner
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetActive implements Registry.
func (r *PostgresRegistry) SetActive(ctx context.Context, partnerID string, active bool) error {
	const q = `UPDATE federation_partners SET active = $2 WHERE partner_id = $1`

	tag, err := r.pool.Exec(ctx, q, partnerID, active)
	if err != nil {
		return fmt.Errorf("update partner: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPartnerNotFound
	}
	return nil
}

func (r *PostgresRegistry) scan(row pgx.Row) (*Partner, error) {
	var p Partner
	err := row.Scan(
		&p.PartnerID,
		&p.DisplayName,
		&p.GovernanceEndpoint,
		&p.WebhookSecret,
		&p.StaleThresholdDays,
		&p.Active,
		&p.AddedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPartnerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan partner: %w", err)
	}
	return &p, nil
}
