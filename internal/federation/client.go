package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/aikewa/govledger/internal/merkle"
)

const (
	userAgent   = "govledger-federation/1.0"
	pollWorkers = 4
)

// Client polls partners' governance endpoints. Requests are paced by a
// shared token bucket so a large directory does not burst.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// NewClient creates a Client. interval is the minimum spacing between
// partner requests; zero disables pacing.
func NewClient(timeout, interval time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if interval > 0 {
		lim = rate.NewLimiter(rate.Every(interval), 1)
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		limiter: lim,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Fetch retrieves a partner's published record.
func (c *Client) Fetch(ctx context.Context, p *Partner) (*PublishedRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.GovernanceEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", p.GovernanceEndpoint, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("partner returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var rec PublishedRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rec.Root() == "" || rec.Timestamp == "" {
		return nil, fmt.Errorf("published record is missing merkle root or timestamp")
	}
	return &rec, nil
}

// Verify checks one partner. Failures are reported as TrustError results,
// never as errors.
func (c *Client) Verify(ctx context.Context, p *Partner) Verification {
	now := c.now()
	res := Verification{
		PartnerID:          p.PartnerID,
		DisplayName:        p.DisplayName,
		LastVerifiedAt:     now,
		GovernanceEndpoint: p.GovernanceEndpoint,
	}

	rec, err := c.Fetch(ctx, p)
	if err != nil {
		res.TrustStatus = TrustError
		res.Error = err.Error()
		res.Notes = "Unable to verify partner: " + err.Error()
		return res
	}

	res.LastMerkleRoot = rec.Root()
	res.ComplianceStage = rec.ComplianceStage
	res.TrustStatus, res.Notes = Assess(p, rec, now)
	return res
}

// VerifyAll checks every active partner, at most pollWorkers at a time,
// and returns the results in directory order. Partners not reached before
// ctx ends are omitted.
func (c *Client) VerifyAll(ctx context.Context, partners []*Partner) []Verification {
	var active []*Partner
	for _, p := range partners {
		if p.Active {
			active = append(active, p)
		}
	}

	results := make([]*Verification, len(active))
	var g errgroup.Group
	g.SetLimit(pollWorkers)
	for i, p := range active {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			v := c.Verify(ctx, p)
			results[i] = &v
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Verification, 0, len(results))
	for _, v := range results {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out
}

// Assess classifies a published record: stale when older than the
// partner's threshold, flagged when the root is not a SHA-256 digest,
// otherwise valid.
func Assess(p *Partner, rec *PublishedRecord, now time.Time) (TrustStatus, string) {
	ts, err := time.Parse(time.RFC3339Nano, rec.Timestamp)
	if err != nil {
		return TrustFlagged, "Published timestamp is not RFC 3339. Requires human review."
	}

	threshold := p.StaleThresholdDays
	if threshold < 1 {
		threshold = DefaultStaleDays
	}
	age := now.Sub(ts)
	if age > time.Duration(threshold)*24*time.Hour {
		return TrustStale, fmt.Sprintf("Partner overdue for transparency refresh. Last update %d days ago (threshold %d days).",
			int(age.Hours()/24), threshold)
	}

	if !merkle.IsDigest(rec.Root()) {
		return TrustFlagged, "Published Merkle root is not a SHA-256 digest. Requires human review."
	}
	return TrustValid, "Ledger root published as of " + rec.Timestamp + "."
}
