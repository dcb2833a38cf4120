package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/pitch-labs/internal/domain"
)

func TestLifecycleCounters(t *testing.T) {
	m := New()
	s := &domain.Session{ID: "s-1", Tier: domain.TierMedium}

	m.SessionStarted(s)
	m.SessionStarted(&domain.Session{ID: "s-2", Tier: domain.TierExpert})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.active))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.started.WithLabelValues("medium")))

	m.TurnCompleted(s, domain.Turn{}, domain.Turn{}, 1200*time.Millisecond)
	m.TurnFailed(s, fmt.Errorf("%w: %w", domain.ErrOracleUnavailable, context.DeadlineExceeded))
	m.TurnFailed(s, fmt.Errorf("%w: empty transcript", domain.ErrTranscriptionUnavailable))
	m.TurnFailed(s, domain.ErrOracleUnavailable)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turns.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turns.WithLabelValues(OutcomeTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turns.WithLabelValues(OutcomeTranscription)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turns.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.oracleLatency))

	m.PerturbationInjected(s, domain.PerturbationSpec{Kind: domain.KindEvent, Subtype: "time_pressure"})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.perturbations.WithLabelValues("event", "time_pressure")))

	s.EndType = domain.EndMutualGoodbye
	m.SessionEnded(&domain.SessionRecord{Session: s, Report: &domain.Report{Score: 70}})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.active))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ended.WithLabelValues("medium", "mutual_goodbye")))

	m.SessionsReaped(0, 1, 2)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.active))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sweeps.WithLabelValues("evicted")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.SessionStarted(&domain.Session{Tier: domain.TierEasy})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := string(body)
	assert.True(t, strings.Contains(out, `pitchlabs_sessions_started_total{tier="easy"} 1`), out)
	assert.Contains(t, out, "pitchlabs_sessions_active 1")
	assert.Contains(t, out, "go_goroutines")
}

func TestSeparateInstancesDoNotConflict(t *testing.T) {
	assert.NotPanics(t, func() {
		_ = New()
		_ = New()
	})
}
