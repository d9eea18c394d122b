package coach

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ashureev/guest-coach/internal/domain"
	"github.com/ashureev/guest-coach/internal/telemetry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func newTestEngine(store Store, client *fakeLLM, sink telemetry.Sink) *Engine {
	cfg := Config{Store: store, Models: testModels, Tuning: DefaultTuning(), Telemetry: sink}
	if client != nil {
		cfg.Client = client
	}
	return NewEngine(cfg)
}

func turn(text string) TurnInput {
	return TurnInput{GuestID: "guest", SessionID: "sess", Text: text}
}

func TestReplyIssuesClarifierForLowInformation(t *testing.T) {
	store := &memStore{}
	sink := &recordingSink{}
	e := newTestEngine(store, nil, sink)

	res, err := e.Reply(context.Background(), turn("idk"))
	require.NoError(t, err)

	assert.Equal(t, KindClarify, res.Kind)
	assert.Equal(t, domain.ModeClarify, res.Mode)
	assert.Contains(t, res.Reply, "what's on your mind")
	assert.Nil(t, res.Draft)
	assert.True(t, res.State.PendingClarifier)
	assert.Equal(t, "what's on your mind", res.State.ClarifierTopic)
	assert.Len(t, sink.named(telemetry.EventClarifierIssued), 1)
}

func TestReplyClearsClarifierOnNextTurn(t *testing.T) {
	store := &memStore{}
	client := &fakeLLM{draftErr: errors.New("provider down")}
	e := newTestEngine(store, client, nil)

	res, err := e.Reply(context.Background(), turn("hmm ok"))
	require.NoError(t, err)
	require.Equal(t, KindClarify, res.Kind)
	store.commit("hmm ok", res)

	// A second sparse message is coached, not clarified again.
	res, err = e.Reply(context.Background(), turn("ok"))
	require.NoError(t, err)
	assert.Equal(t, KindCoach, res.Kind)
	assert.False(t, res.State.PendingClarifier)
	assert.Empty(t, res.State.ClarifierTopic)

	reqs := client.draftRequests()
	require.NotEmpty(t, reqs)
	assert.Contains(t, reqs[0].Prompt, "what's on your mind: ok")
}

func TestReplyWithoutProviderFallsBack(t *testing.T) {
	inputs := []string{
		"I want to stop doom-scrolling before bed every night",
		"I can't decide between taking the new job offer or staying at my current company, the tradeoffs feel huge",
		"My manager keeps giving me projects without deadlines and I feel anxious all week",
	}
	for _, input := range inputs {
		e := newTestEngine(&memStore{}, nil, nil)
		res, err := e.Reply(context.Background(), turn(input))
		require.NoError(t, err)

		require.NotNil(t, res.Draft)
		assert.True(t, res.Draft.Complete(), input)
		assert.True(t, withinBounds(*res.Draft), input)
		assert.True(t, hasSections(res.Reply), res.Reply)
		assert.True(t, res.FallbackUsed)
		assert.Equal(t, 0, res.RetryCount)
		assert.Equal(t, fallbackModelLabel, res.State.LastModel)
	}
}

func TestReplyAcceptsGoodDraft(t *testing.T) {
	store := &memStore{}
	client := &fakeLLM{drafts: []string{draftJSON(freshDraft)}}
	sink := &recordingSink{}
	e := newTestEngine(store, client, sink)

	text := "I can't decide between taking the new job offer or staying at my current company, the tradeoffs feel huge"
	res, err := e.Reply(context.Background(), turn(text))
	require.NoError(t, err)

	assert.Equal(t, KindCoach, res.Kind)
	assert.Equal(t, freshDraft, *res.Draft)
	assert.Equal(t, TierPrimary, res.Route.Tier)
	assert.Equal(t, "primary-model", res.Model)
	assert.Equal(t, LensClarify, res.Lens)
	assert.False(t, res.FallbackUsed)
	assert.Equal(t, "primary-model", res.State.LastModel)
	assert.Equal(t, string(LensClarify), res.State.LastLens)
	assert.Len(t, client.draftRequests(), 1)

	selected := sink.named(telemetry.EventModelSelected)
	require.Len(t, selected, 1)
	assert.Equal(t, "primary", selected[0].Meta["tier"])
	assert.Len(t, sink.named(telemetry.EventTurnCompleted), 1)
	assert.Empty(t, sink.named(telemetry.EventFallbackUsed))
}

func TestReplyRetriesOnceOnOverlap(t *testing.T) {
	store := &memStore{}
	store.exchange("Work keeps eating my weekends", Render(priorDraft, "earlier"))

	near := priorDraft
	near.ActionStep = "Track every evening hour spent on marketing tasks during the coming five weekdays."
	client := &fakeLLM{drafts: []string{draftJSON(near), draftJSON(freshDraft)}}
	sink := &recordingSink{}
	e := newTestEngine(store, client, sink)

	res, err := e.Reply(context.Background(), turn("Honestly I still dread Sunday evenings because of all the marketing catch-up"))
	require.NoError(t, err)

	assert.Equal(t, 1, res.RetryCount)
	assert.False(t, res.FallbackUsed)
	assert.Equal(t, freshDraft, *res.Draft)

	reqs := client.draftRequests()
	require.Len(t, reqs, 2)
	assert.NotContains(t, reqs[0].System, "previous draft was rejected")
	assert.Contains(t, reqs[1].System, "previous draft was rejected")

	retries := sink.named(telemetry.EventRetryOccurred)
	require.Len(t, retries, 1)
	assert.Equal(t, 1, retries[0].Meta["retry_count"])
}

func TestReplyNeverRepeatsPriorTurn(t *testing.T) {
	store := &memStore{}
	prior := Render(priorDraft, "earlier")
	store.exchange("Work keeps eating my weekends", prior)

	client := &fakeLLM{drafts: []string{draftJSON(priorDraft), draftJSON(priorDraft), draftJSON(priorDraft)}}
	sink := &recordingSink{}
	e := newTestEngine(store, client, sink)

	res, err := e.Reply(context.Background(), turn("Honestly I still dread Sunday evenings because of all the marketing catch-up"))
	require.NoError(t, err)

	assert.Len(t, client.draftRequests(), 2)
	assert.Equal(t, 1, res.RetryCount)
	assert.True(t, res.FallbackUsed)
	assert.NotEqual(t, normalizeReply(prior), normalizeReply(res.Reply))
	assert.True(t, res.Draft.Complete())

	fallbacks := sink.named(telemetry.EventFallbackUsed)
	require.Len(t, fallbacks, 1)
	assert.Equal(t, "retry_rejected_duplicate", fallbacks[0].Meta["reason"])
}

func TestReplyProviderErrorSkipsRetry(t *testing.T) {
	client := &fakeLLM{draftErr: errors.New("timeout")}
	e := newTestEngine(&memStore{}, client, nil)

	res, err := e.Reply(context.Background(), turn("I want to build a steady morning exercise routine before work"))
	require.NoError(t, err)
	assert.Len(t, client.draftRequests(), 1)
	assert.Equal(t, 0, res.RetryCount)
	assert.True(t, res.FallbackUsed)
}

func TestReplyUnparseableSkipsRetry(t *testing.T) {
	client := &fakeLLM{drafts: []string{"Sure! Here are some thoughts."}}
	e := newTestEngine(&memStore{}, client, nil)

	res, err := e.Reply(context.Background(), turn("I want to build a steady morning exercise routine before work"))
	require.NoError(t, err)
	assert.Len(t, client.draftRequests(), 1)
	assert.True(t, res.FallbackUsed)
	assert.True(t, res.Draft.Complete())
}

func TestReplyUpdatesMemoryEveryFourthTurn(t *testing.T) {
	store := &memStore{}
	store.exchange("I keep skipping workouts after long shifts", "Reflection: one")
	store.exchange("Mornings feel rushed and workouts slip first", "Reflection: two")
	store.exchange("Maybe shorter workouts would stick better", "Reflection: three")
	sink := &recordingSink{}
	e := newTestEngine(store, nil, sink)

	res, err := e.Reply(context.Background(), turn("I want to build a steady morning exercise routine before work"))
	require.NoError(t, err)

	assert.True(t, res.SummaryUpdated)
	assert.NotEmpty(t, res.State.RollingSummary)
	assert.NotEmpty(t, res.State.UserFacts)
	assert.NotEmpty(t, res.State.OpenLoops)
	assert.Len(t, sink.named(telemetry.EventSummaryUpdated), 1)
}

func TestReplyRunsSummaryAlongsideDraft(t *testing.T) {
	store := &memStore{}
	store.exchange("I keep skipping workouts after long shifts", "Reflection: one")
	store.exchange("Mornings feel rushed and workouts slip first", "Reflection: two")
	store.exchange("Maybe shorter workouts would stick better", "Reflection: three")
	client := &fakeLLM{
		drafts:  []string{draftJSON(freshDraft)},
		summary: `{"rollingSummary":"Guest is rebuilding a workout habit around shift work.","userFacts":["Works long shifts"],"openLoops":["Choose a workout length"]}`,
	}
	e := newTestEngine(store, client, nil)

	res, err := e.Reply(context.Background(), turn("I want to build a steady morning exercise routine before work"))
	require.NoError(t, err)

	assert.False(t, res.FallbackUsed)
	assert.Equal(t, "Guest is rebuilding a workout habit around shift work.", res.State.RollingSummary)
	assert.Equal(t, []string{"Works long shifts"}, res.State.UserFacts)
	assert.Equal(t, []string{"Choose a workout length"}, res.State.OpenLoops)
	assert.Positive(t, res.Usage.Total())
}

func TestReplySkipsMemoryBetweenCadence(t *testing.T) {
	store := &memStore{}
	store.exchange("I keep skipping workouts after long shifts", "Reflection: one")
	e := newTestEngine(store, nil, nil)

	res, err := e.Reply(context.Background(), turn("I want to build a steady morning exercise routine before work"))
	require.NoError(t, err)
	assert.False(t, res.SummaryUpdated)
	assert.Empty(t, res.State.RollingSummary)
}

func TestReplyAvoidsRepeatingLens(t *testing.T) {
	store := &memStore{state: domain.SessionState{LastLens: string(LensExperiment)}}
	store.exchange("I keep skipping workouts after long shifts", "Reflection: one")
	store.exchange("Mornings feel rushed and workouts slip first", "Reflection: two")
	e := newTestEngine(store, nil, nil)

	res, err := e.Reply(context.Background(), turn("I want to build a steady morning exercise routine before work"))
	require.NoError(t, err)
	assert.NotEqual(t, LensExperiment, res.Lens)
	assert.Equal(t, string(res.Lens), res.State.LastLens)
}

func TestReplySurfacesStateStoreFailures(t *testing.T) {
	e := newTestEngine(&memStore{failLoad: errors.New("disk gone")}, nil, nil)
	_, err := e.Reply(context.Background(), turn("I want to build a steady morning exercise routine before work"))
	assert.ErrorIs(t, err, ErrStateStore)

	_, err = e.Reply(context.Background(), turn("idk"))
	assert.ErrorIs(t, err, ErrStateStore)

	_, err = e.ReplyBasic(context.Background(), turn("idk"))
	assert.ErrorIs(t, err, ErrStateStore)
}

func TestReplyCanceledContextStillAnswers(t *testing.T) {
	store := &memStore{}
	store.exchange("I keep skipping workouts after long shifts", "Reflection: one")
	store.exchange("Mornings feel rushed and workouts slip first", "Reflection: two")
	store.exchange("Maybe shorter workouts would stick better", "Reflection: three")
	e := newTestEngine(store, &fakeLLM{draftErr: context.Canceled}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := e.Reply(ctx, turn("I want to build a steady morning exercise routine before work"))
	require.NoError(t, err)
	assert.True(t, res.FallbackUsed)
	assert.True(t, res.Draft.Complete())
	assert.True(t, res.SummaryUpdated)
	assert.NotEmpty(t, res.State.RollingSummary)
}

func TestReplyReturnsPatchWithoutSaving(t *testing.T) {
	store := &memStore{state: domain.SessionState{LastLens: string(LensExperiment), UserFacts: []string{"Works nights"}}}
	e := newTestEngine(store, nil, nil)

	res, err := e.Reply(context.Background(), turn("idk"))
	require.NoError(t, err)
	require.NotNil(t, res.Patch.PendingClarifier)
	assert.True(t, *res.Patch.PendingClarifier)
	require.NotNil(t, res.Patch.ClarifierTopic)
	assert.Equal(t, "what's on your mind", *res.Patch.ClarifierTopic)
	assert.Nil(t, res.Patch.LastLens)
	assert.Equal(t, []string{"Works nights"}, res.State.UserFacts)

	res, err = e.Reply(context.Background(), turn("I want to build a steady morning exercise routine before work"))
	require.NoError(t, err)
	require.NotNil(t, res.Patch.LastLens)
	assert.Equal(t, string(res.Lens), *res.Patch.LastLens)
	require.NotNil(t, res.Patch.LastModel)
	assert.Equal(t, fallbackModelLabel, *res.Patch.LastModel)

	res, err = e.ReplyBasic(context.Background(), turn("idk"))
	require.NoError(t, err)
	require.NotNil(t, res.Patch.PendingClarifier)
	assert.False(t, *res.Patch.PendingClarifier)

	stored, err := store.GetOrCreateSessionState(context.Background(), "sess")
	require.NoError(t, err)
	assert.False(t, stored.PendingClarifier)
	assert.Empty(t, stored.ClarifierTopic)
	assert.Equal(t, string(LensExperiment), stored.LastLens)
	assert.Empty(t, stored.LastModel)
	assert.Empty(t, store.turns)
}

func TestReplyBasicSingleAttempt(t *testing.T) {
	store := &memStore{state: domain.SessionState{PendingClarifier: true, ClarifierTopic: "career"}}
	client := &fakeLLM{draftErr: errors.New("provider down")}
	e := newTestEngine(store, client, nil)

	res, err := e.ReplyBasic(context.Background(), turn("idk"))
	require.NoError(t, err)
	assert.Equal(t, KindCoach, res.Kind)
	assert.True(t, res.FallbackUsed)
	assert.True(t, hasSections(res.Reply))
	assert.Len(t, client.draftRequests(), 1)
	assert.False(t, res.State.PendingClarifier)
	assert.Equal(t, fallbackModelLabel, res.State.LastModel)
}
