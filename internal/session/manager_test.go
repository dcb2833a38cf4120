package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashureev/pitch-labs/internal/domain"
	"github.com/ashureev/pitch-labs/internal/oracle"
)

func newTestManager(clock *fakeClock, p Persister) *Manager {
	return NewManager(ManagerConfig{
		Oracle:    &scriptOracle{},
		Persister: p,
		Policy: Policy{
			IdleTimeout:  10 * time.Minute,
			AbandonGrace: 2 * time.Minute,
			Retention:    time.Hour,
		},
		Now: clock.Now,
	})
}

func TestManagerStartAndLookup(t *testing.T) {
	m := newTestManager(newClock(), nil)
	s, tok, err := m.Start("user-1", testScenario(), domain.TierMedium)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if tok == "" || len(tok) < 22 {
		t.Fatalf("token too short: %q", tok)
	}
	if _, err := s.Connect(tok); err != nil {
		t.Fatalf("Connect with issued token: %v", err)
	}

	if got, err := m.GetForUser(s.ID(), "user-1"); err != nil || got != s {
		t.Fatalf("GetForUser = %v, %v", got, err)
	}
	if _, err := m.GetForUser(s.ID(), "user-2"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for another user, got %v", err)
	}
	if _, err := m.Get("missing"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	if _, _, err := m.Start("user-1", &domain.Scenario{ID: "broken"}, domain.TierEasy); !errors.Is(err, domain.ErrInvalidScenario) {
		t.Fatalf("expected ErrInvalidScenario, got %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("Len = %d, want 1", m.Len())
	}
}

func TestManagerForUserNewestFirst(t *testing.T) {
	clock := newClock()
	m := newTestManager(clock, nil)
	first, _, _ := m.Start("user-1", testScenario(), domain.TierEasy)
	clock.Advance(time.Second)
	second, _, _ := m.Start("user-1", testScenario(), domain.TierEasy)
	m.Start("user-2", testScenario(), domain.TierEasy)

	got := m.ForUser("user-1")
	if len(got) != 2 || got[0] != second || got[1] != first {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestSweepDiscardsNeverConnected(t *testing.T) {
	clock := newClock()
	m := newTestManager(clock, nil)
	m.Start("user-1", testScenario(), domain.TierEasy)

	clock.Advance(time.Minute)
	if st := m.Sweep(context.Background()); st.Discarded != 0 {
		t.Fatalf("discarded too early: %+v", st)
	}
	clock.Advance(2 * time.Minute)
	if st := m.Sweep(context.Background()); st.Discarded != 1 {
		t.Fatalf("expected one discard: %+v", st)
	}
	if m.Len() != 0 {
		t.Fatal("discarded session still registered")
	}
}

func TestSweepAbandonedAndTimeout(t *testing.T) {
	clock := newClock()
	p := &recordingPersister{}
	m := newTestManager(clock, p)

	dropped, tok1, _ := m.Start("user-1", testScenario(), domain.TierEasy)
	att, _ := dropped.Connect(tok1)
	idle, tok2, _ := m.Start("user-2", testScenario(), domain.TierEasy)
	idle.Connect(tok2)

	clock.Advance(30 * time.Second)
	dropped.Detach(att.Gen)

	clock.Advance(3 * time.Minute)
	if st := m.Sweep(context.Background()); st.Ended != 1 {
		t.Fatalf("expected the detached session to end: %+v", st)
	}
	if snap := dropped.Snapshot(); snap.EndType != domain.EndAbandoned {
		t.Fatalf("end type = %s, want abandoned", snap.EndType)
	}
	if idle.Status() != domain.StatusActive {
		t.Fatal("attached session ended before its idle timeout")
	}

	clock.Advance(7 * time.Minute)
	if st := m.Sweep(context.Background()); st.Ended != 1 {
		t.Fatalf("expected the idle session to time out: %+v", st)
	}
	if snap := idle.Snapshot(); snap.EndType != domain.EndTimeout {
		t.Fatalf("end type = %s, want timeout", snap.EndType)
	}
	if p.count() != 2 {
		t.Fatalf("persisted %d records, want 2", p.count())
	}

	clock.Advance(time.Hour)
	if st := m.Sweep(context.Background()); st.Evicted != 2 {
		t.Fatalf("expected both ended sessions evicted: %+v", st)
	}
}

func TestScenarioIdleTimeoutOverridesPolicy(t *testing.T) {
	clock := newClock()
	m := newTestManager(clock, nil)
	sc := testScenario()
	sc.IdleTimeout = domain.Duration(time.Minute)
	s, tok, _ := m.Start("user-1", sc, domain.TierEasy)
	s.Connect(tok)

	clock.Advance(61 * time.Second)
	m.Sweep(context.Background())
	if snap := s.Snapshot(); snap.EndType != domain.EndTimeout {
		t.Fatalf("end type = %q, want timeout", snap.EndType)
	}
}

func TestSweepAppliesDrift(t *testing.T) {
	clock := newClock()
	m := newTestManager(clock, nil)
	sc := testScenario()
	sc.Drift = &domain.Drift{Interval: domain.Duration(time.Minute), Delta: -5}
	s, tok, _ := m.Start("user-1", sc, domain.TierEasy)
	att, _ := s.Connect(tok)

	clock.Advance(150 * time.Second)
	m.Sweep(context.Background())
	if g := s.Snapshot().Gauge; g != 40 {
		t.Fatalf("gauge after two drift steps = %d, want 40", g)
	}

	clock.Advance(30 * time.Second)
	m.Sweep(context.Background())
	if g := s.Snapshot().Gauge; g != 35 {
		t.Fatalf("gauge after third drift step = %d, want 35", g)
	}

	events := s.Outbox().Since(att.EventID)
	if len(events) != 2 || events[0].Type != EventGaugeUpdate {
		t.Fatalf("expected two jauge_update events, got %v", eventTypes(events))
	}
	d := events[0].Data.(GaugeData)
	if d.Reason != "drift" || d.Delta == nil || *d.Delta != -10 {
		t.Fatalf("unexpected drift payload: %+v", d)
	}
	if s.Status() != domain.StatusActive {
		t.Fatal("drift must never end a session")
	}
}

func TestShutdownEndsActiveSessions(t *testing.T) {
	clock := newClock()
	p := &recordingPersister{}
	m := newTestManager(clock, p)
	active, tok, _ := m.Start("user-1", testScenario(), domain.TierEasy)
	active.Connect(tok)
	active.SubmitTurn(context.Background(), TurnInput{Text: "Bonjour"})
	m.Start("user-2", testScenario(), domain.TierEasy)

	if n := m.Shutdown(context.Background()); n != 1 {
		t.Fatalf("Shutdown ended %d sessions, want 1", n)
	}
	if snap := active.Snapshot(); snap.EndType != domain.EndServerShutdown {
		t.Fatalf("end type = %s", snap.EndType)
	}
	if m.Len() != 1 {
		t.Fatalf("never-connected session should be dropped, Len = %d", m.Len())
	}
	if p.count() != 1 {
		t.Fatalf("persisted %d records, want 1", p.count())
	}
}

type countingObserver struct {
	started, completed, failed, perturbed, ended int
}

func (c *countingObserver) SessionStarted(*domain.Session) { c.started++ }
func (c *countingObserver) TurnCompleted(*domain.Session, domain.Turn, domain.Turn, time.Duration) {
	c.completed++
}
func (c *countingObserver) TurnFailed(*domain.Session, error) { c.failed++ }
func (c *countingObserver) PerturbationInjected(*domain.Session, domain.PerturbationSpec) {
	c.perturbed++
}
func (c *countingObserver) SessionEnded(*domain.SessionRecord) { c.ended++ }

func TestObserversNotified(t *testing.T) {
	obs := &countingObserver{}
	o := &scriptOracle{errs: []error{errors.New("boom")}, replies: []*oracle.Response{nil, neutral(1)}}
	s := startSession(t, testScenario(), domain.TierEasy, o, func(opts *Options) {
		opts.Observers = []Observer{obs}
	})
	connect(t, s)
	s.SubmitTurn(context.Background(), TurnInput{Text: "Bonjour"})
	submit(t, s, "Bonjour")
	s.End(context.Background(), domain.EndUser)

	if obs.started != 1 || obs.failed != 1 || obs.completed != 1 || obs.ended != 1 || obs.perturbed != 0 {
		t.Fatalf("unexpected observer counts: %+v", obs)
	}
}
