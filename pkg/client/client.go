package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when the server has no such resource.
var ErrNotFound = errors.New("client: not found")

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Issue is one open integrity issue.
type Issue struct {
	ID             string    `json:"id"`
	Ledger         string    `json:"ledger"`
	Classification string    `json:"classification"`
	Severity       string    `json:"severity"`
	Title          string    `json:"title"`
	DetectedAt     time.Time `json:"detected_at"`
}

// Status is the server's overall integrity state.
type Status struct {
	Timestamp           time.Time         `json:"timestamp"`
	SystemState         string            `json:"system_state"`
	LastVerification    time.Time         `json:"last_verification"`
	LedgerStatus        map[string]string `json:"ledger_status"`
	OpenIssues          []Issue           `json:"open_issues"`
	PendingHumanReviews int               `json:"pending_human_reviews"`
	GlobalMerkleRoot    string            `json:"global_merkle_root"`
	PrivacyNotice       string            `json:"privacy_notice"`
}

// Verification is the result of an on-demand ledger verification.
type Verification struct {
	Verified   bool       `json:"verified"`
	MerkleRoot string     `json:"merkleRoot"`
	Entries    int        `json:"entries"`
	LastUpdate *time.Time `json:"lastUpdate"`
	Scope      string     `json:"scope"`
}

// ProofResult is the outcome of verifying a trust proof.
type ProofResult struct {
	ArtifactID       string     `json:"artifact_id"`
	ArtifactHash     string     `json:"artifact_hash"`
	IssuedAt         *time.Time `json:"issued_at,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	Issuer           string     `json:"issuer"`
	LedgerReference  string     `json:"ledger_reference"`
	ComplianceStage  string     `json:"compliance_stage"`
	Status           string     `json:"status"`
	Notes            string     `json:"notes"`
	Warnings         []string   `json:"warnings,omitempty"`
	RevocationReason string     `json:"revocation_reason,omitempty"`
}

// NetworkSummary is the federation trust overview.
type NetworkSummary struct {
	TotalPartners          int    `json:"total_partners"`
	ValidPartners          int    `json:"valid_partners"`
	StalePartners          int    `json:"stale_partners"`
	FlaggedPartners        int    `json:"flagged_partners"`
	ErrorPartners          int    `json:"error_partners"`
	NetworkMerkleAggregate string `json:"network_merkle_aggregate"`
	TrustScore             int    `json:"trust_score"`
	Health                 string `json:"health"`
}

// Feed is a page of recent entries from one ledger, newest first. Entries
// are left undecoded.
type Feed struct {
	Ledger     string            `json:"ledger"`
	Entries    []json.RawMessage `json:"entries"`
	Count      int               `json:"count"`
	Total      int               `json:"total"`
	MerkleRoot string            `json:"merkleRoot"`
}

// Client calls one govledger server.
type Client struct {
	base       string
	httpClient *http.Client
	cache      *responseCache
}

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithCacheTTL keeps successful GET responses for ttl. The server marks
// its reads cacheable for five minutes.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		if ttl <= 0 {
			return errors.New("cache ttl must be positive")
		}
		c.cache = newResponseCache(ttl)
		return nil
	}
}

// New creates a Client for the server at base.
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", base)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Status fetches GET /api/status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.getJSON(ctx, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify runs GET /api/verify for scope, "all" or a single ledger.
func (c *Client) Verify(ctx context.Context, scope string) (*Verification, error) {
	var out Verification
	if err := c.getJSON(ctx, "/api/verify", url.Values{"scope": {scope}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyProofToken checks a full proof token.
func (c *Client) VerifyProofToken(ctx context.Context, token string) (*ProofResult, error) {
	return c.proof(ctx, url.Values{"token": {token}})
}

// VerifyAttestation checks a compact attestation. ts and h may be zero.
func (c *Client) VerifyAttestation(ctx context.Context, rid, sig string, ts int64, h string) (*ProofResult, error) {
	q := url.Values{"rid": {rid}, "sig": {sig}}
	if ts != 0 {
		q.Set("ts", strconv.FormatInt(ts, 10))
	}
	if h != "" {
		q.Set("h", h)
	}
	return c.proof(ctx, q)
}

// proof decodes the result on 200, 400 and 404, which all carry a status.
func (c *Client) proof(ctx context.Context, q url.Values) (*ProofResult, error) {
	code, body, err := c.get(ctx, "/api/trust/proof", q)
	if err != nil {
		return nil, err
	}
	var out ProofResult
	if jerr := json.Unmarshal(body, &out); jerr == nil && out.Status != "" {
		return &out, nil
	}
	return nil, apiError(code, body)
}

// Network fetches GET /api/federation/network.
func (c *Client) Network(ctx context.Context) (*NetworkSummary, error) {
	var out NetworkSummary
	if err := c.getJSON(ctx, "/api/federation/network", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ledger fetches up to limit recent entries of one ledger.
func (c *Client) Ledger(ctx context.Context, ledger string, limit int) (*Feed, error) {
	var out Feed
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if err := c.getJSON(ctx, "/api/ledger/"+url.PathEscape(ledger), q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, v any) error {
	code, body, err := c.get(ctx, path, q)
	if err != nil {
		return err
	}
	if code == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if code >= 300 {
		return apiError(code, body)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// get returns the status and body without failing on error statuses.
func (c *Client) get(ctx context.Context, path string, q url.Values) (int, []byte, error) {
	target := c.base + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	if c.cache != nil {
		if body, ok := c.cache.get(target); ok {
			return http.StatusOK, body, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusOK && c.cache != nil {
		c.cache.set(target, body)
	}
	return resp.StatusCode, body, nil
}

func apiError(code int, body []byte) error {
	var e struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	return &APIError{StatusCode: code, Message: msg}
}

// ── response cache ───────────────────────────────────────────────────────────

type cacheEntry struct {
	body      []byte
	expiresAt time.Time
}

type responseCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
}

func newResponseCache(ttl time.Duration) *responseCache {
	return &responseCache{entries: make(map[string]cacheEntry), ttl: ttl}
}

func (rc *responseCache) get(key string) ([]byte, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	e, ok := rc.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.body, true
}

func (rc *responseCache) set(key string, body []byte) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.entries[key] = cacheEntry{body: body, expiresAt: time.Now().Add(rc.ttl)}
}
