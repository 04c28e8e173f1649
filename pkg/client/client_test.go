package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aikewa/govledger/pkg/client"
)

// ── Stub server ─────────────────────────────────────────────────────────

func stubServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"system_state":          "healthy",
			"ledger_status":         map[string]string{"governance": "healthy"},
			"open_issues":           []any{},
			"pending_human_reviews": 0,
			"global_merkle_root":    "abc",
		})
	})

	mux.HandleFunc("/api/verify", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("scope") == "bogus" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "unknown scope"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"verified":   true,
			"merkleRoot": "root",
			"entries":    3,
			"scope":      r.URL.Query().Get("scope"),
		})
	})

	mux.HandleFunc("/api/trust/proof", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("token") == "good":
			json.NewEncoder(w).Encode(map[string]any{"artifact_id": "a-1", "status": "valid"})
		case q.Get("token") == "junk":
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{"status": "invalid_token"})
		case q.Get("rid") == "ghost":
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{"artifact_id": "ghost", "status": "not_found"})
		case q.Get("rid") != "":
			json.NewEncoder(w).Encode(map[string]any{"artifact_id": q.Get("rid"), "status": "valid", "issuer": q.Get("ts")})
		default:
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "token or rid and sig are required"})
		}
	})

	mux.HandleFunc("/api/federation/network", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"total_partners": 2, "valid_partners": 1, "trust_score": 50, "health": "degraded"})
	})

	mux.HandleFunc("/api/ledger/governance", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ledger":  "governance",
			"entries": []map[string]any{{"id": "m-2"}, {"id": "m-1"}},
			"count":   2,
			"total":   2,
		})
	})

	return httptest.NewServer(mux)
}

func newClient(t *testing.T, url string, opts ...client.Option) *client.Client {
	t.Helper()
	c, err := client.New(url, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// ── Tests ───────────────────────────────────────────────────────────────

func TestNew_rejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "governance.example.org", "ftp://x"} {
		if _, err := client.New(u); err == nil {
			t.Errorf("New(%q) should fail", u)
		}
	}
	if _, err := client.New("http://x", client.WithCacheTTL(0)); err == nil {
		t.Error("zero cache ttl should fail")
	}
}

func TestStatus(t *testing.T) {
	srv := stubServer(t, nil)
	defer srv.Close()

	st, err := newClient(t, srv.URL+"/").Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.SystemState != "healthy" || st.LedgerStatus["governance"] != "healthy" {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestVerify(t *testing.T) {
	srv := stubServer(t, nil)
	defer srv.Close()
	c := newClient(t, srv.URL)

	v, err := c.Verify(context.Background(), "all")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !v.Verified || v.Entries != 3 || v.Scope != "all" {
		t.Errorf("unexpected verification: %+v", v)
	}

	_, err = c.Verify(context.Background(), "bogus")
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "unknown scope" {
		t.Errorf("expected 400 APIError, got %v", err)
	}
}

func TestProofResults(t *testing.T) {
	srv := stubServer(t, nil)
	defer srv.Close()
	c := newClient(t, srv.URL)
	ctx := context.Background()

	cases := []struct {
		name string
		call func() (*client.ProofResult, error)
		want string
	}{
		{"token valid", func() (*client.ProofResult, error) { return c.VerifyProofToken(ctx, "good") }, "valid"},
		{"token invalid", func() (*client.ProofResult, error) { return c.VerifyProofToken(ctx, "junk") }, "invalid_token"},
		{"attestation missing", func() (*client.ProofResult, error) { return c.VerifyAttestation(ctx, "ghost", "00", 0, "") }, "not_found"},
		{"attestation valid", func() (*client.ProofResult, error) { return c.VerifyAttestation(ctx, "a-2", "ff", 1700000000, "abcd") }, "valid"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := tc.call()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Status != tc.want {
				t.Errorf("Status = %q, want %q", res.Status, tc.want)
			}
		})
	}

	res, _ := c.VerifyAttestation(ctx, "a-2", "ff", 1700000000, "")
	if res.Issuer != "1700000000" {
		t.Errorf("ts not forwarded: %+v", res)
	}

	if _, err := c.VerifyProofToken(ctx, ""); err == nil {
		t.Error("a response without a status should be an error")
	}
}

func TestNetworkAndLedger(t *testing.T) {
	srv := stubServer(t, nil)
	defer srv.Close()
	c := newClient(t, srv.URL)

	sum, err := c.Network(context.Background())
	if err != nil {
		t.Fatalf("Network: %v", err)
	}
	if sum.TrustScore != 50 || sum.Health != "degraded" {
		t.Errorf("unexpected summary: %+v", sum)
	}

	feed, err := c.Ledger(context.Background(), "governance", 2)
	if err != nil {
		t.Fatalf("Ledger: %v", err)
	}
	if feed.Count != 2 || len(feed.Entries) != 2 {
		t.Errorf("unexpected feed: %+v", feed)
	}

	if _, err := c.Ledger(context.Background(), "nope", 0); !errors.Is(err, client.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCacheTTL(t *testing.T) {
	var hits atomic.Int32
	srv := stubServer(t, &hits)
	defer srv.Close()
	c := newClient(t, srv.URL, client.WithCacheTTL(time.Minute))

	for range 3 {
		if _, err := c.Status(context.Background()); err != nil {
			t.Fatalf("Status: %v", err)
		}
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("server hit %d times, want 1", n)
	}

	uncached := newClient(t, srv.URL)
	uncached.Status(context.Background()) //nolint:errcheck
	if n := hits.Load(); n != 2 {
		t.Errorf("server hit %d times, want 2", n)
	}
}
