package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/aikewa/govledger/internal/integrity"
)

// ── Stubs ────────────────────────────────────────────────────────────────

type stubRunner struct {
	states []integrity.SystemState
	err    error
	calls  int
}

func (s *stubRunner) Run(context.Context, string, bool) (*integrity.EngineReport, error) {
	if s.err != nil {
		return nil, s.err
	}
	st := s.states[s.calls%len(s.states)]
	s.calls++
	return &integrity.EngineReport{Timestamp: time.Now().UTC(), SystemState: st}, nil
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestCheck_cachesReportAndPublishes(t *testing.T) {
	runner := &stubRunner{states: []integrity.SystemState{integrity.StateHealthy, integrity.StateAttentionRequired}}
	srv := grpchealth.NewServer()
	m := New(runner, Config{}, zap.NewNop())
	m.AttachGRPC(srv)

	var transitions []integrity.SystemState
	m.SetStateChange(func(_ context.Context, _, to integrity.SystemState) {
		transitions = append(transitions, to)
	})

	if rep, _ := m.Last(); rep != nil {
		t.Fatal("expected no cached report before first run")
	}

	if _, err := m.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
	resp, err := srv.Check(context.Background(), &healthpb.HealthCheckRequest{Service: LedgerService})
	if err != nil {
		t.Fatalf("grpc check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", resp.Status)
	}
	if got := testutil.ToFloat64(systemState.WithLabelValues("healthy")); got != 1 {
		t.Errorf("healthy gauge = %v, want 1", got)
	}

	if _, err := m.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
	resp, _ = srv.Check(context.Background(), &healthpb.HealthCheckRequest{Service: LedgerService})
	if resp.Status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status = %v, want NOT_SERVING", resp.Status)
	}
	if len(transitions) != 1 || transitions[0] != integrity.StateAttentionRequired {
		t.Errorf("transitions = %v", transitions)
	}
	rep, _ := m.Last()
	if rep.SystemState != integrity.StateAttentionRequired {
		t.Errorf("cached state = %s", rep.SystemState)
	}
}

func TestCheck_errorKeepsPreviousReport(t *testing.T) {
	runner := &stubRunner{states: []integrity.SystemState{integrity.StateDegraded}}
	m := New(runner, Config{}, zap.NewNop())
	if _, err := m.Check(context.Background()); err != nil {
		t.Fatal(err)
	}

	runner.err = errors.New("disk gone")
	if _, err := m.Check(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	rep, _ := m.Last()
	if rep == nil || rep.SystemState != integrity.StateDegraded {
		t.Errorf("expected cached degraded report, got %+v", rep)
	}
	if m.LastError() == nil {
		t.Error("expected LastError to be set")
	}
}

func TestStart_runsJobsUntilCancelled(t *testing.T) {
	runner := &stubRunner{states: []integrity.SystemState{integrity.StateHealthy}}
	m := New(runner, Config{CheckInterval: time.Hour}, zap.NewNop())

	ran := make(chan struct{}, 1)
	m.AddJob("poll", 10*time.Millisecond, func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	if runner.calls == 0 {
		t.Error("expected an initial engine run")
	}
}
