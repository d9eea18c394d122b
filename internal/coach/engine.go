package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashureev/guest-coach/internal/domain"
	"github.com/ashureev/guest-coach/internal/llm"
	"github.com/ashureev/guest-coach/internal/telemetry"
)

// ErrStateStore wraps every session state or history read failure. These are
// the only errors Reply returns.
var ErrStateStore = errors.New("session state store failure")

const (
	gatePriorTurns     = 3
	promptRecentTurns  = 6
	maxFallbackSalts   = 12
	fallbackModelLabel = "fallback"
)

// Store is the repository surface the engine reads. The engine never writes;
// callers commit TurnResult.Patch together with the turn pair.
type Store interface {
	GetOrCreateSessionState(ctx context.Context, sessionID string) (*domain.SessionState, error)
	ListTurns(ctx context.Context, sessionID string, limit int) ([]domain.ConversationTurn, error)
	GetLatestSnapshotForSession(ctx context.Context, sessionID string) (*domain.Snapshot, error)
}

// Config wires an Engine.
type Config struct {
	Store     Store
	Client    llm.Client
	Models    Models
	Tuning    Tuning
	Timeout   time.Duration
	Telemetry telemetry.Sink
	Logger    *slog.Logger
}

// Engine runs the adaptive reply pipeline for one turn at a time. It holds
// no per-session state; everything is read from the Store.
type Engine struct {
	store      Store
	generator  *Generator
	summarizer *Summarizer
	gate       Gate
	tuning     Tuning
	sink       telemetry.Sink
	logger     *slog.Logger
}

// NewEngine creates an Engine. A zero Tuning is replaced by DefaultTuning.
func NewEngine(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.Nop{}
	}
	if cfg.Tuning.SimilarityThreshold == 0 {
		cfg.Tuning = DefaultTuning()
	}
	return &Engine{
		store:      cfg.Store,
		generator:  NewGenerator(cfg.Client, cfg.Models, cfg.Timeout, cfg.Logger),
		summarizer: NewSummarizer(cfg.Client, cfg.Models.Summary, cfg.Timeout, cfg.Logger),
		gate:       NewGate(cfg.Tuning.SimilarityThreshold),
		tuning:     cfg.Tuning,
		sink:       cfg.Telemetry,
		logger:     cfg.Logger,
	}
}

// Kind is the terminal outcome of a turn.
type Kind string

const (
	KindClarify Kind = "clarify"
	KindCoach   Kind = "coach"
)

// TurnInput is one incoming guest message.
type TurnInput struct {
	GuestID   string
	SessionID string
	Text      string
}

// TurnResult is the reply plus everything the caller may want to record.
type TurnResult struct {
	Kind           Kind
	Mode           domain.TurnMode
	Reply          string
	Draft          *Draft
	Lens           Lens
	Route          Route
	Model          string
	RetryCount     int
	FallbackUsed   bool
	SummaryUpdated bool
	Usage          llm.Usage
	// Patch is the state change this turn implies. It is not yet saved.
	Patch domain.SessionStatePatch
	// State is the loaded state with Patch applied.
	State   *domain.SessionState
	Latency time.Duration
}

// attemptOutcome classifies one generation attempt.
type attemptOutcome int

const (
	outcomeAccepted attemptOutcome = iota
	outcomeNeedsRetry
	outcomeFailed
)

func (o attemptOutcome) String() string {
	switch o {
	case outcomeAccepted:
		return "accepted"
	case outcomeNeedsRetry:
		return "needs_retry"
	default:
		return "failed"
	}
}

type attemptResult struct {
	outcome  attemptOutcome
	draft    *Draft
	rendered string
	verdict  Verdict
	model    string
	usage    llm.Usage
	err      error
}

// draftResult is the drafting branch's contribution to the turn.
type draftResult struct {
	draft    Draft
	rendered string
	model    string
	usage    llm.Usage
	retries  int
	fallback bool
	reason   string
}

// Reply runs the full pipeline for one turn. Provider and parse failures
// never surface; only state store failures are returned.
func (e *Engine) Reply(ctx context.Context, in TurnInput) (*TurnResult, error) {
	start := time.Now()
	text := strings.TrimSpace(in.Text)

	state, err := e.store.GetOrCreateSessionState(ctx, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: load state: %v", ErrStateStore, err)
	}
	history, err := e.store.ListTurns(ctx, in.SessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: load history: %v", ErrStateStore, err)
	}

	merged := text
	if state.PendingClarifier && state.ClarifierTopic != "" {
		merged = state.ClarifierTopic + ": " + text
	}
	profile := BuildProfile(history, merged)

	if !state.PendingClarifier && IsLowInformation(text, e.tuning.LowInfo) {
		return e.clarify(ctx, in, state, profile, text, start)
	}

	lastLens := Lens(state.LastLens)
	lens := SelectLens(profile, lastLens, lensSeed(merged, lastLens, profile))
	route := RouteModel(profile, merged, e.tuning.Router)
	e.track(ctx, in, telemetry.EventModelSelected, map[string]any{
		"tier":    string(route.Tier),
		"model":   e.generator.models.For(route.Tier),
		"score":   route.Score,
		"reasons": route.Reasons,
		"lens":    string(lens),
	})

	snapshot, err := e.store.GetLatestSnapshotForSession(ctx, in.SessionID)
	if err != nil {
		e.logger.Warn("snapshot lookup failed", "session_id", in.SessionID, "error", err)
		snapshot = nil
	}

	priors := contents(domain.RecentTurns(history, gatePriorTurns, isCoachReply))
	dc := DraftContext{
		Profile:      profile,
		Lens:         lens,
		State:        state,
		Snapshot:     snapshot,
		RecentTurns:  domain.RecentTurns(history, promptRecentTurns, anyTurn),
		AvoidPhrases: avoidPhrases(priors),
		Text:         merged,
	}
	seed := merged + "|" + string(lens) + "|" + strconv.Itoa(profile.UserTurnCount)
	summarize := ShouldSummarize(profile.UserTurnCount, profile.AggregateChars, e.tuning.Memory)

	// Both branches degrade to heuristics instead of failing, so their
	// outcomes travel in drafted and summary and Wait only joins.
	var (
		drafted draftResult
		summary SummaryResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		drafted = e.draft(gctx, dc, route.Tier, priors, seed)
		return gctx.Err()
	})
	if summarize {
		g.Go(func() error {
			userMessages := append(append([]string{}, profile.RecentUserMessages...), merged)
			summary = e.summarizer.Summarize(gctx, profile, state, userMessages)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Warn("turn context ended during generation", "session_id", in.SessionID, "error", err)
	}

	lensValue := string(lens)
	patch := domain.SessionStatePatch{
		PendingClarifier: ptr(false),
		ClarifierTopic:   ptr(""),
		LastLens:         &lensValue,
		LastModel:        ptr(drafted.model),
	}
	if summarize {
		patch.RollingSummary = ptr(summary.Memory.RollingSummary)
		patch.UserFacts = nonNil(summary.Memory.UserFacts)
		patch.OpenLoops = nonNil(summary.Memory.OpenLoops)
	}
	usage := drafted.usage.Add(summary.Usage)
	result := &TurnResult{
		Kind:           KindCoach,
		Mode:           domain.ModeCoach,
		Reply:          drafted.rendered,
		Draft:          &drafted.draft,
		Lens:           lens,
		Route:          route,
		Model:          drafted.model,
		RetryCount:     drafted.retries,
		FallbackUsed:   drafted.fallback,
		SummaryUpdated: summarize,
		Usage:          usage,
		Patch:          patch,
		State:          projected(state, patch),
		Latency:        time.Since(start),
	}
	e.emitCoachEvents(ctx, in, result, drafted, summary)
	return result, nil
}

func (e *Engine) clarify(ctx context.Context, in TurnInput, state *domain.SessionState, p Profile, text string, start time.Time) (*TurnResult, error) {
	topic := clarifierTopic(p)
	question := clarifyingQuestion(p, topic, text+"|"+strconv.Itoa(p.UserTurnCount))

	patch := domain.SessionStatePatch{
		PendingClarifier: ptr(true),
		ClarifierTopic:   &topic,
	}

	e.track(ctx, in, telemetry.EventClarifierIssued, map[string]any{
		"topic":  topic,
		"intent": string(p.Intent),
	})
	e.logger.Info("clarifier issued", "session_id", in.SessionID, "topic", topic)
	return &TurnResult{
		Kind:    KindClarify,
		Mode:    domain.ModeClarify,
		Reply:   question,
		Patch:   patch,
		State:   projected(state, patch),
		Latency: time.Since(start),
	}, nil
}

// draft runs attempt, at most one forced-variation retry, then fallback.
func (e *Engine) draft(ctx context.Context, dc DraftContext, tier Tier, priors []string, seed string) draftResult {
	var res draftResult

	first := e.attempt(ctx, dc, tier, false, "", priors, seed)
	res.usage = first.usage
	switch first.outcome {
	case outcomeAccepted:
		res.draft, res.rendered, res.model = *first.draft, first.rendered, first.model
		return res
	case outcomeNeedsRetry:
		res.retries = 1
		second := e.attempt(ctx, dc, tier, true, first.rendered, priors, seed+"|retry")
		res.usage = res.usage.Add(second.usage)
		if second.outcome == outcomeAccepted {
			res.draft, res.rendered, res.model = *second.draft, second.rendered, second.model
			return res
		}
		res.reason = "retry_" + second.outcome.String()
		if second.outcome == outcomeNeedsRetry {
			res.reason = "retry_rejected_" + second.verdict.Reason
		}
	case outcomeFailed:
		res.reason = "first_failed"
	}

	res.draft, res.rendered = e.fallback(dc.Profile, dc.Lens, dc.Text, priors, seed)
	res.model = fallbackModelLabel
	res.fallback = true
	return res
}

func (e *Engine) attempt(ctx context.Context, dc DraftContext, tier Tier, force bool, rejected string, priors []string, seed string) attemptResult {
	d, usage, model, err := e.generator.Generate(ctx, dc, tier, force, rejected)
	if err != nil {
		if !errors.Is(err, llm.ErrNotConfigured) {
			e.logger.Warn("draft attempt failed", "model", model, "force_variation", force, "error", err)
		}
		return attemptResult{outcome: outcomeFailed, model: model, usage: usage, err: err}
	}

	rendered := Render(*d, seed)
	verdict := e.gate.Check(rendered, priors)
	a := attemptResult{draft: d, rendered: rendered, verdict: verdict, model: model, usage: usage}
	if verdict.Accepted {
		a.outcome = outcomeAccepted
		return a
	}
	e.logger.Info("draft rejected by gate", "model", model, "reason", verdict.Reason, "overlap", verdict.Overlap)
	a.outcome = outcomeNeedsRetry
	return a
}

// fallback walks template salts until one passes the gate. If none does,
// the first rendering whose normalized text differs from every prior wins.
func (e *Engine) fallback(p Profile, lens Lens, text string, priors []string, seed string) (Draft, string) {
	var (
		distinct      *Draft
		distinctReply string
		last          Draft
		lastReply     string
	)
	for salt := 0; salt < maxFallbackSalts; salt++ {
		d := FallbackDraft(p, lens, text, salt)
		reply := Render(d, seed+"|fallback|"+strconv.Itoa(salt))
		if e.gate.Check(reply, priors).Accepted {
			return d, reply
		}
		if distinct == nil && differsFromAll(reply, priors) {
			dd := d
			distinct, distinctReply = &dd, reply
		}
		last, lastReply = d, reply
	}
	if distinct != nil {
		return *distinct, distinctReply
	}
	return last, lastReply
}

func differsFromAll(reply string, priors []string) bool {
	norm := normalizeReply(reply)
	for _, p := range priors {
		if normalizeReply(p) == norm {
			return false
		}
	}
	return true
}

func (e *Engine) emitCoachEvents(ctx context.Context, in TurnInput, r *TurnResult, d draftResult, s SummaryResult) {
	if r.RetryCount > 0 {
		e.track(ctx, in, telemetry.EventRetryOccurred, map[string]any{
			"retry_count": r.RetryCount,
			"lens":        string(r.Lens),
			"model":       r.Model,
		})
	}
	if r.FallbackUsed {
		e.track(ctx, in, telemetry.EventFallbackUsed, map[string]any{
			"reason": d.reason,
			"lens":   string(r.Lens),
		})
	}
	if r.SummaryUpdated {
		e.track(ctx, in, telemetry.EventSummaryUpdated, map[string]any{
			"model":     s.Model,
			"heuristic": s.Heuristic,
			"facts":     len(s.Memory.UserFacts),
			"loops":     len(s.Memory.OpenLoops),
		})
	}
	e.track(ctx, in, telemetry.EventTurnCompleted, map[string]any{
		"kind":             string(r.Kind),
		"model":            r.Model,
		"tier":             string(r.Route.Tier),
		"lens":             string(r.Lens),
		"retry_count":      r.RetryCount,
		"fallback":         r.FallbackUsed,
		"input_tokens":     r.Usage.InputTokens,
		"output_tokens":    r.Usage.OutputTokens,
		"tokens_estimated": r.Usage.Estimated,
		"latency_ms":       r.Latency.Milliseconds(),
	})
	e.logger.Info("coach turn completed",
		"session_id", in.SessionID,
		"model", r.Model,
		"lens", r.Lens,
		"retry_count", r.RetryCount,
		"fallback", r.FallbackUsed,
		"summary_updated", r.SummaryUpdated,
	)
}

func (e *Engine) track(ctx context.Context, in TurnInput, name string, meta map[string]any) {
	e.sink.Track(ctx, telemetry.Event{
		Name:      name,
		GuestID:   in.GuestID,
		SessionID: in.SessionID,
		Meta:      meta,
		At:        time.Now(),
	})
}

// ReplyBasic is the legacy single-attempt path used for guests outside the
// rollout: no lens, memory or quality gate, one model call then fallback.
func (e *Engine) ReplyBasic(ctx context.Context, in TurnInput) (*TurnResult, error) {
	start := time.Now()
	text := strings.TrimSpace(in.Text)

	state, err := e.store.GetOrCreateSessionState(ctx, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: load state: %v", ErrStateStore, err)
	}
	history, err := e.store.ListTurns(ctx, in.SessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: load history: %v", ErrStateStore, err)
	}
	profile := BuildProfile(history, text)
	seed := text + "|basic|" + strconv.Itoa(profile.UserTurnCount)

	dc := DraftContext{
		Profile:     profile,
		RecentTurns: domain.RecentTurns(history, promptRecentTurns, anyTurn),
		Text:        text,
	}
	d, usage, model, err := e.generator.Generate(ctx, dc, TierFast, false, "")
	fallback := err != nil
	if fallback {
		fd := FallbackDraft(profile, LensClarify, text, 0)
		d, model = &fd, fallbackModelLabel
	}

	patch := domain.SessionStatePatch{
		PendingClarifier: ptr(false),
		ClarifierTopic:   ptr(""),
		LastModel:        &model,
	}

	r := &TurnResult{
		Kind:         KindCoach,
		Mode:         domain.ModeCoach,
		Reply:        Render(*d, seed),
		Draft:        d,
		Route:        Route{Tier: TierFast},
		Model:        model,
		FallbackUsed: fallback,
		Usage:        usage,
		Patch:        patch,
		State:        projected(state, patch),
		Latency:      time.Since(start),
	}
	if fallback {
		e.track(ctx, in, telemetry.EventFallbackUsed, map[string]any{"reason": "basic_failed"})
	}
	e.track(ctx, in, telemetry.EventTurnCompleted, map[string]any{
		"kind":       string(r.Kind),
		"engine":     "basic",
		"model":      r.Model,
		"fallback":   fallback,
		"latency_ms": r.Latency.Milliseconds(),
	})
	return r, nil
}

func anyTurn(domain.ConversationTurn) bool { return true }

// projected returns a copy of st with p applied.
func projected(st *domain.SessionState, p domain.SessionStatePatch) *domain.SessionState {
	next := *st
	next.UserFacts = append([]string(nil), st.UserFacts...)
	next.OpenLoops = append([]string(nil), st.OpenLoops...)
	next.Apply(p)
	return &next
}

func ptr[T any](v T) *T { return &v }

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
