package alert

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aikewa/govledger/internal/federation"
	"github.com/aikewa/govledger/internal/integrity"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingSender) Send(_ context.Context, to, subject, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, to+"|"+subject)
	return nil
}

func TestNotifier_mailsOnTransition(t *testing.T) {
	s := &recordingSender{}
	n := NewNotifier(s, []string{"ops@example.org", "audit@example.org"}, nil, zap.NewNop())

	n.StateChanged(context.Background(), "", integrity.StateHealthy)
	n.StateChanged(context.Background(), integrity.StateHealthy, integrity.StateHealthy)
	assert.Empty(t, s.sent, "startup and unchanged states are not announced")

	n.StateChanged(context.Background(), integrity.StateHealthy, integrity.StateAttentionRequired)
	require.Len(t, s.sent, 2)
	assert.Equal(t, "ops@example.org|[govledger] system state attention_required", s.sent[0])
}

func TestDispatcher_signsAndRetries(t *testing.T) {
	const secret = "0123456789abcdef-peer"
	var (
		calls  atomic.Int32
		mu     sync.Mutex
		got    federation.Notification
		header string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		_ = json.Unmarshal(body, &got)
		header = r.Header.Get(SignatureHeader)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher("home", secret, []string{srv.URL}, zap.NewNop())
	d.delays = []time.Duration{time.Millisecond, time.Millisecond}

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	delivered, err := d.Dispatch(context.Background(), EventStateChanged, StatePayload{From: "healthy", To: "degraded"}, at)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, int32(2), calls.Load())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "home", got.PartnerID)
	assert.Equal(t, "2025-06-01T12:00:00Z", got.Timestamp)
	want, err := federation.SignNotification(secret, got)
	require.NoError(t, err)
	assert.Equal(t, want, got.Signature)
	assert.True(t, strings.HasPrefix(header, "sha256="))
}

func TestDispatcher_givesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewDispatcher("home", "0123456789abcdef", []string{srv.URL, srv.URL}, zap.NewNop())
	d.delays = []time.Duration{time.Millisecond}
	delivered, err := d.Dispatch(context.Background(), EventStateChanged, StatePayload{}, time.Now())
	require.NoError(t, err)
	assert.Zero(t, delivered)
}
