// Package session implements the per-session state machine that turns
// trainee utterances into scored prospect replies.
package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ashureev/pitch-labs/internal/domain"
	"github.com/ashureev/pitch-labs/internal/gauge"
	"github.com/ashureev/pitch-labs/internal/oracle"
	"github.com/ashureev/pitch-labs/internal/patterns"
	"github.com/ashureev/pitch-labs/internal/perturb"
	"github.com/ashureev/pitch-labs/internal/phase"
	"github.com/ashureev/pitch-labs/internal/report"
)

const (
	defaultOracleTimeout = 30 * time.Second
	persistTimeout       = 10 * time.Second
	maxTurnRunes         = 4000
	maxAudioBytes        = 10 << 20
)

var errNoOracle = errors.New("session requires an oracle")

// Persister receives a session once it is sealed.
type Persister interface {
	PersistSession(ctx context.Context, rec *domain.SessionRecord) error
}

// Observer is notified of lifecycle changes. Calls happen outside the
// session lock and must not block for long.
type Observer interface {
	SessionStarted(s *domain.Session)
	TurnCompleted(s *domain.Session, user, prospect domain.Turn, latency time.Duration)
	TurnFailed(s *domain.Session, err error)
	PerturbationInjected(s *domain.Session, spec domain.PerturbationSpec)
	SessionEnded(rec *domain.SessionRecord)
}

// Options configures a single session.
type Options struct {
	UserID        string
	Tier          domain.Tier
	Token         string
	Oracle        oracle.Oracle
	Transcriber   oracle.Transcriber
	Persister     Persister
	Observers     []Observer
	Roller        perturb.Roller
	OracleTimeout time.Duration
	// RedirectURL may contain "{id}", replaced by the session id.
	RedirectURL string
	OutboxSize  int
	Logger      *slog.Logger
	Now         func() time.Time
}

// TurnInput is one trainee submission. Audio is only transcribed when Text
// is empty.
type TurnInput struct {
	Text      string
	Audio     []byte
	AudioType string
}

// TurnResult is the enriched outcome of an accepted turn.
type TurnResult struct {
	User         domain.Turn
	Prospect     domain.Turn
	Perturbation *domain.PerturbationSpec
	Ended        bool
	EndType      domain.EndType
	Report       *domain.Report
}

// Attachment identifies one client connection to a session.
type Attachment struct {
	Gen uint64
	// EventID is the id of the connected event emitted for this attachment.
	EventID int64
}

// Session owns one conversation. SubmitTurn, End and Sweep are serialized by
// turnMu; mu guards the state itself.
type Session struct {
	turnMu sync.Mutex

	mu          sync.Mutex
	state       *domain.Session
	report      *domain.Report
	attached    bool
	gen         uint64
	detachedAt  time.Time
	lastDriftAt time.Time

	scenario    *domain.Scenario
	token       string
	sched       *perturb.Scheduler
	outbox      *Outbox
	opts        Options
	redirectURL string
	logger      *slog.Logger
}

// Start builds a session in the connecting state.
func Start(id string, sc *domain.Scenario, opts Options) (*Session, error) {
	if sc == nil {
		return nil, fmt.Errorf("%w: no scenario", domain.ErrInvalidScenario)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	if !opts.Tier.Valid() {
		return nil, fmt.Errorf("%w: unknown tier %q", domain.ErrInvalidScenario, opts.Tier)
	}
	if opts.Oracle == nil {
		return nil, errNoOracle
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OracleTimeout <= 0 {
		opts.OracleTimeout = defaultOracleTimeout
	}
	if opts.Roller == nil {
		opts.Roller = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := opts.Now()
	g := *sc.StartGauge
	s := &Session{
		state: &domain.Session{
			ID:                 id,
			UserID:             opts.UserID,
			ScenarioID:         sc.ID,
			Tier:               opts.Tier,
			Gauge:              g,
			Mood:               gauge.MoodFor(g, sc.Thresholds()),
			Phase:              domain.PhaseOpening,
			ConversionPossible: gauge.ConversionEligible(g, sc.ConversionThreshold),
			Status:             domain.StatusConnecting,
			Messages:           []domain.Turn{},
			CreatedAt:          now,
			LastActivityAt:     now,
		},
		scenario:    sc,
		token:       opts.Token,
		sched:       perturb.ForScenario(sc, opts.Roller),
		outbox:      NewOutbox(id, opts.OutboxSize),
		opts:        opts,
		redirectURL: strings.ReplaceAll(opts.RedirectURL, "{id}", id),
		logger:      logger.With("session_id", id, "user_id", opts.UserID, "tier", opts.Tier),
	}

	snap := s.state.Clone()
	for _, o := range opts.Observers {
		o.SessionStarted(snap)
	}
	s.logger.Info("Session started", "scenario_id", sc.ID, "start_gauge", g)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.state.ID }

// UserID returns the owner.
func (s *Session) UserID() string { return s.opts.UserID }

// Tier returns the difficulty tier.
func (s *Session) Tier() domain.Tier { return s.opts.Tier }

// Scenario returns the scenario the session was started from.
func (s *Session) Scenario() *domain.Scenario { return s.scenario }

// Outbox returns the session's event queue.
func (s *Session) Outbox() *Outbox { return s.outbox }

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() *domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Status returns the lifecycle state.
func (s *Session) Status() domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Status
}

// Report returns the sealed report, if any.
func (s *Session) Report() (*domain.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report, s.report != nil
}

// Authorize checks a bearer token against the session's credential.
func (s *Session) Authorize(token string) error {
	if s.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
		return domain.ErrUnauthorized
	}
	return nil
}

// Connect attaches a client. The first call moves the session to active;
// later calls rejoin an active session whose previous client detached.
func (s *Session) Connect(token string) (Attachment, error) {
	return s.attach(token, false)
}

// Takeover is Connect for a transport that may have lost its previous
// socket without noticing. An attached client is superseded instead of
// rejected; its generation goes stale so its Detach is ignored.
func (s *Session) Takeover(token string) (Attachment, error) {
	return s.attach(token, true)
}

func (s *Session) attach(token string, takeover bool) (Attachment, error) {
	if err := s.Authorize(token); err != nil {
		return Attachment{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	now := s.opts.Now()
	rejoined := false
	switch st.Status {
	case domain.StatusEnded:
		return Attachment{}, domain.ErrSessionEnded
	case domain.StatusConnecting:
		st.Status = domain.StatusActive
		st.StartedAt = &now
		st.LastActivityAt = now
	case domain.StatusActive:
		if s.attached && !takeover {
			return Attachment{}, domain.ErrAlreadyConnected
		}
		if s.attached {
			s.logger.Info("Session client superseded", "gen", s.gen)
		}
		rejoined = true
	}
	s.attached = true
	s.gen++

	data := ConnectedData{
		View:               gauge.NewView(st.Tier, st.Gauge, nil, st.Mood),
		Status:             st.Status,
		Tier:               st.Tier,
		Phase:              st.Phase,
		ExchangeCount:      st.ExchangeCount,
		MaxExchanges:       s.scenario.MaxExchanges,
		ConversionPossible: s.conversionFlagLocked(),
		ScenarioTitle:      s.scenario.Title,
		Rejoined:           rejoined,
	}
	if st.ExchangeCount == 0 {
		data.Opening = s.scenario.Opening
	}
	ev := s.outbox.Append(EventConnected, data, now)
	s.logger.Info("Session client attached", "rejoined", rejoined, "event_id", ev.ID)
	return Attachment{Gen: s.gen, EventID: ev.ID}, nil
}

// Detach releases the attachment identified by gen. Stale generations are
// ignored so a late detach cannot evict a newer client.
func (s *Session) Detach(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || !s.attached {
		return
	}
	s.attached = false
	s.detachedAt = s.opts.Now()
	s.logger.Info("Session client detached")
}

// Attached reports whether a client is currently connected.
func (s *Session) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

// EmitError surfaces a turn-level error to the attached client.
func (s *Session) EmitError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitErrorLocked(err)
}

func (s *Session) emitErrorLocked(err error) {
	if s.state.Status == domain.StatusEnded {
		return
	}
	s.outbox.Append(EventError, NewErrorData(err), s.opts.Now())
}

func validateTurn(in TurnInput) (string, error) {
	text := strings.TrimSpace(in.Text)
	switch {
	case text == "" && len(in.Audio) == 0:
		return "", fmt.Errorf("%w: text or audio is required", domain.ErrInvalidTurn)
	case utf8.RuneCountInString(text) > maxTurnRunes:
		return "", fmt.Errorf("%w: text exceeds %d characters", domain.ErrInvalidTurn, maxTurnRunes)
	case len(in.Audio) > maxAudioBytes:
		return "", fmt.Errorf("%w: audio exceeds %d bytes", domain.ErrInvalidTurn, maxAudioBytes)
	case !utf8.ValidString(text):
		return "", fmt.Errorf("%w: text is not valid UTF-8", domain.ErrInvalidTurn)
	}
	return text, nil
}

// SubmitTurn processes one trainee utterance. On failure nothing is
// committed: the exchange count and message history are unchanged and the
// session stays active.
func (s *Session) SubmitTurn(ctx context.Context, in TurnInput) (*TurnResult, error) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	s.mu.Lock()
	if s.state.Status != domain.StatusActive {
		s.mu.Unlock()
		return nil, domain.ErrNotConnected
	}
	text, err := validateTurn(in)
	if err != nil {
		s.emitErrorLocked(err)
		s.mu.Unlock()
		s.turnFailed(err)
		return nil, err
	}
	st := s.state
	req := &oracle.Request{
		SessionID:     st.ID,
		ScenarioID:    s.scenario.ID,
		ScenarioTitle: s.scenario.Title,
		Persona:       s.scenario.Persona,
		Tier:          st.Tier,
		Gauge:         st.Gauge,
		Mood:          st.Mood,
		Phase:         st.Phase,
		ExchangeCount: st.ExchangeCount,
		History:       append([]domain.Turn(nil), st.Messages...),
		Audio:         in.Audio,
	}
	s.outbox.Append(EventThinking, ThinkingData{Exchange: st.ExchangeCount + 1}, s.opts.Now())
	s.mu.Unlock()

	if text == "" {
		text, err = s.transcribe(ctx, in)
		if err != nil {
			return nil, s.failTurn(err)
		}
	}
	req.Text = text

	started := time.Now()
	octx, cancel := context.WithTimeout(ctx, s.opts.OracleTimeout)
	resp, err := s.opts.Oracle.Generate(octx, req)
	cancel()
	latency := time.Since(started)
	if err == nil {
		err = resp.Normalize()
	}
	if err != nil {
		return nil, s.failTurn(fmt.Errorf("%w: %w", domain.ErrOracleUnavailable, err))
	}

	s.mu.Lock()
	res, rec := s.commitLocked(text, resp)
	snap := s.state.Clone()
	s.mu.Unlock()

	for _, o := range s.opts.Observers {
		o.TurnCompleted(snap, res.User, res.Prospect, latency)
		if res.Perturbation != nil {
			o.PerturbationInjected(snap, *res.Perturbation)
		}
	}
	if rec != nil {
		s.finish(ctx, rec)
	}
	return res, nil
}

func (s *Session) transcribe(ctx context.Context, in TurnInput) (string, error) {
	if s.opts.Transcriber == nil {
		return "", domain.ErrTranscriptionUnavailable
	}
	tctx, cancel := context.WithTimeout(ctx, s.opts.OracleTimeout)
	defer cancel()
	text, err := s.opts.Transcriber.Transcribe(tctx, in.Audio, in.AudioType)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrTranscriptionUnavailable, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty transcript", domain.ErrTranscriptionUnavailable)
	}
	return text, nil
}

func (s *Session) failTurn(err error) error {
	s.mu.Lock()
	s.emitErrorLocked(err)
	s.mu.Unlock()
	s.logger.Warn("Turn failed", "error", err, "code", domain.ErrorCode(err))
	s.turnFailed(err)
	return err
}

func (s *Session) turnFailed(err error) {
	snap := s.Snapshot()
	for _, o := range s.opts.Observers {
		o.TurnFailed(snap, err)
	}
}

// commitLocked runs matcher, phase classifier, scheduler and gauge engine in
// that order, appends both turns and checks the termination triggers.
func (s *Session) commitLocked(userText string, resp *oracle.Response) (*TurnResult, *domain.SessionRecord) {
	st := s.state
	sc := s.scenario
	now := s.opts.Now()

	prevUserEnding, prevProspectEnding := false, false
	if t := st.LastTurn(domain.RoleUser); t != nil {
		prevUserEnding = t.EndingSignal
	}
	if t := st.LastTurn(domain.RoleProspect); t != nil {
		prevProspectEnding = t.EndingSignal
	}

	objection, ok := patterns.Classify(resp.Text)
	if !ok {
		objection, _ = patterns.ParseObjection(resp.ObjectionTag)
	}
	buying := patterns.HasBuyingSignal(resp.Text)
	userEnding := patterns.IsEndingSignal(userText)
	prospectEnding := patterns.IsEndingSignal(resp.Text)
	endingExchange := patterns.IsEndingExchange(resp.Text, userText)

	exchange := st.ExchangeCount + 1
	before := st.Gauge
	afterDelta := gauge.ApplyDelta(before, resp.GaugeDelta)
	mood := gauge.MoodFor(afterDelta, sc.Thresholds())
	conversion := s.conversionLocked(afterDelta)

	ph := phase.Derive(phase.Input{
		ExchangeCount:      exchange,
		Gauge:              afterDelta,
		Mood:               mood,
		Objection:          objection,
		BuyingSignal:       buying,
		EndingSignal:       endingExchange,
		ConversionPossible: conversion,
		HostileAfter:       sc.HostileAfter(),
	})

	var injected *domain.PerturbationSpec
	if !endingExchange {
		spec, ok := s.sched.MaybeInject(st.Tier, ph, exchange, st.Perturbations)
		if !ok {
			spec, ok = s.sched.Lookup(st.Tier, ph, exchange, st.Perturbations, resp.EventTag)
		}
		if ok {
			injected = &spec
		}
	}

	final := afterDelta
	penalty := 0
	if injected != nil {
		final = gauge.ApplyDelta(afterDelta, -injected.Penalty)
		penalty = afterDelta - final
	}

	userTurn := domain.Turn{
		Role:         domain.RoleUser,
		Text:         userText,
		Timestamp:    now,
		EndingSignal: userEnding,
	}
	prospectTurn := domain.Turn{
		Role:          domain.RoleProspect,
		Text:          resp.Text,
		AudioRef:      resp.AudioRef,
		Timestamp:     now,
		GaugeDelta:    afterDelta - before,
		Penalty:       penalty,
		GaugeBefore:   before,
		GaugeAfter:    final,
		Mood:          mood,
		Phase:         ph,
		Objection:     objection,
		BuyingSignal:  buying,
		EndingSignal:  prospectEnding,
		BehavioralCue: resp.BehavioralCue,
	}
	if injected != nil {
		prospectTurn.IsEvent = true
		prospectTurn.EventKind = injected.Kind
		prospectTurn.EventType = injected.Subtype
		prospectTurn.EventMessage = injected.Message
		st.Perturbations = append(st.Perturbations, injected.Subtype)
	}

	st.Messages = append(st.Messages, userTurn, prospectTurn)
	st.ExchangeCount = exchange
	st.Phase = ph
	st.ConversionPossible = conversion
	st.Gauge = final
	st.Mood = gauge.MoodFor(final, sc.Thresholds())
	if injected != nil {
		st.ConversionPossible = s.conversionLocked(final)
	}
	st.LastActivityAt = now

	var end domain.EndType
	switch {
	case (userEnding && (prospectEnding || prevProspectEnding)) || (prospectEnding && prevUserEnding):
		end = domain.EndMutualGoodbye
	case exchange >= sc.MaxExchanges:
		end = domain.EndMaxExchanges
	}

	delta := prospectTurn.GaugeDelta
	data := ResponseData{
		View:               gauge.NewView(st.Tier, afterDelta, &delta, mood),
		Text:               resp.Text,
		AudioRef:           resp.AudioRef,
		Phase:              ph,
		ExchangeCount:      exchange,
		BehavioralCue:      resp.BehavioralCue,
		Objection:          objection,
		BuyingSignal:       buying,
		ConversionPossible: s.flag(conversion),
		IsEvent:            injected != nil,
	}
	if injected != nil {
		data.EventType = injected.Subtype
	}
	if end != "" {
		data.SessionEnded = true
		data.EndType = end
		data.RedirectURL = s.redirectURL
	}
	s.outbox.Append(EventResponse, data, now)

	if injected != nil {
		typ := EventPerturbation
		if injected.Kind == domain.KindReversal {
			typ = EventReversal
		}
		d := -penalty
		s.outbox.Append(typ, PerturbationData{
			View:        gauge.NewView(st.Tier, st.Gauge, &d, st.Mood),
			Kind:        injected.Kind,
			Subtype:     injected.Subtype,
			Message:     injected.Message,
			Description: injected.Description,
		}, now)
		s.logger.Info("Perturbation injected", "event_type", injected.Subtype, "kind", injected.Kind, "penalty", penalty)
	}

	res := &TurnResult{
		User:         userTurn,
		Prospect:     prospectTurn,
		Perturbation: injected,
	}
	var rec *domain.SessionRecord
	if end != "" {
		rec = s.sealLocked(end, now)
		res.Ended = true
		res.EndType = end
		res.Report = rec.Report
	}
	return res, rec
}

// End seals an active session. Calling it on an ended session returns the
// report computed the first time.
func (s *Session) End(ctx context.Context, end domain.EndType) (*domain.Report, error) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	s.mu.Lock()
	switch s.state.Status {
	case domain.StatusEnded:
		r := s.report
		s.mu.Unlock()
		return r, nil
	case domain.StatusConnecting:
		s.mu.Unlock()
		return nil, domain.ErrNotConnected
	}
	rec := s.sealLocked(end, s.opts.Now())
	s.mu.Unlock()

	s.finish(ctx, rec)
	return rec.Report, nil
}

func (s *Session) sealLocked(end domain.EndType, now time.Time) *domain.SessionRecord {
	st := s.state
	st.Status = domain.StatusEnded
	st.EndType = end
	ended := now
	st.EndedAt = &ended
	s.report = report.Build(st, s.scenario, now)

	s.outbox.Append(EventEnded, EndedData{
		EndType:     end,
		RedirectURL: s.redirectURL,
		Report:      ClientReport(st.Tier, s.report),
	}, now)
	s.outbox.close()
	s.logger.Info("Session ended", "end_type", end, "exchanges", st.ExchangeCount, "score", s.report.Score)
	return &domain.SessionRecord{Session: st.Clone(), Report: s.report}
}

// finish hands a sealed record to the persister and observers. Persistence
// failures are logged; the session stays ended.
func (s *Session) finish(ctx context.Context, rec *domain.SessionRecord) {
	if s.opts.Persister != nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		if err := s.opts.Persister.PersistSession(pctx, rec); err != nil {
			s.logger.Error("Failed to persist session", "error", err)
		}
		cancel()
	}
	for _, o := range s.opts.Observers {
		o.SessionEnded(rec)
	}
}

// ClientReport returns the copy of r a trainee on tier may see.
func ClientReport(tier domain.Tier, r *domain.Report) *domain.Report {
	if r == nil || gauge.IsGaugeVisible(tier) {
		return r
	}
	return r.Redacted()
}

func (s *Session) conversionLocked(g int) bool {
	ok := gauge.ConversionEligible(g, s.scenario.ConversionThreshold)
	return ok || (s.scenario.StickyConversion && s.state.ConversionPossible)
}

func (s *Session) conversionFlagLocked() *bool {
	return s.flag(s.state.ConversionPossible)
}

// flag hides the conversion flag from tiers that do not see the gauge.
func (s *Session) flag(v bool) *bool {
	if !gauge.IsGaugeVisible(s.opts.Tier) {
		return nil
	}
	return &v
}
