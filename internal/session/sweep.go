package session

import (
	"context"
	"time"

	"github.com/ashureev/pitch-labs/internal/domain"
	"github.com/ashureev/pitch-labs/internal/gauge"
)

// Policy bounds how long sessions may sit idle.
type Policy struct {
	// IdleTimeout ends an active session with no accepted turn for this long.
	// A scenario's idle_timeout takes precedence.
	IdleTimeout time.Duration
	// AbandonGrace ends an active session whose client has been detached for
	// this long, and discards sessions never connected within it.
	AbandonGrace time.Duration
	// Retention is how long an ended session stays in memory.
	Retention time.Duration
}

// SweepOutcome tells the manager what to do with a session after a sweep.
type SweepOutcome int

const (
	SweepKept SweepOutcome = iota
	SweepEnded
	SweepDiscard
	SweepEvict
)

// Sweep applies the inactivity policy and scenario drift at now. A session
// with a turn in flight is not idle and is left alone.
func (s *Session) Sweep(ctx context.Context, now time.Time, p Policy) SweepOutcome {
	if !s.turnMu.TryLock() {
		return SweepKept
	}
	defer s.turnMu.Unlock()

	s.mu.Lock()
	st := s.state
	switch st.Status {
	case domain.StatusConnecting:
		expired := p.AbandonGrace > 0 && now.Sub(st.CreatedAt) >= p.AbandonGrace
		s.mu.Unlock()
		if expired {
			s.logger.Info("Discarding session never connected", "age", now.Sub(st.CreatedAt))
			return SweepDiscard
		}
		return SweepKept

	case domain.StatusEnded:
		evict := st.EndedAt != nil && now.Sub(*st.EndedAt) >= p.Retention
		s.mu.Unlock()
		if evict {
			return SweepEvict
		}
		return SweepKept
	}

	var end domain.EndType
	idle := p.IdleTimeout
	if s.scenario.IdleTimeout > 0 {
		idle = time.Duration(s.scenario.IdleTimeout)
	}
	switch {
	case idle > 0 && now.Sub(st.LastActivityAt) >= idle:
		end = domain.EndTimeout
	case !s.attached && p.AbandonGrace > 0 && now.Sub(s.detachedAt) >= p.AbandonGrace:
		end = domain.EndAbandoned
	}
	if end == "" {
		s.driftLocked(now)
		s.mu.Unlock()
		return SweepKept
	}
	rec := s.sealLocked(end, now)
	s.mu.Unlock()
	s.finish(ctx, rec)
	return SweepEnded
}

// driftLocked moves an idle session's gauge by the scenario drift for every
// full interval elapsed since the last turn or the last drift step.
func (s *Session) driftLocked(now time.Time) {
	d := s.scenario.Drift
	if d == nil || d.Delta == 0 || d.Interval <= 0 {
		return
	}
	st := s.state
	interval := time.Duration(d.Interval)
	anchor := st.LastActivityAt
	if s.lastDriftAt.After(anchor) {
		anchor = s.lastDriftAt
	}
	steps := int(now.Sub(anchor) / interval)
	if steps <= 0 {
		return
	}
	s.lastDriftAt = anchor.Add(time.Duration(steps) * interval)

	before := st.Gauge
	st.Gauge = gauge.ApplyDelta(before, steps*d.Delta)
	if st.Gauge == before {
		return
	}
	st.Mood = gauge.MoodFor(st.Gauge, s.scenario.Thresholds())
	st.ConversionPossible = s.conversionLocked(st.Gauge)

	delta := st.Gauge - before
	s.outbox.Append(EventGaugeUpdate, GaugeData{
		View:               gauge.NewView(st.Tier, st.Gauge, &delta, st.Mood),
		Reason:             "drift",
		ConversionPossible: s.conversionFlagLocked(),
	}, now)
	s.logger.Debug("Gauge drifted", "steps", steps, "delta", delta)
}
