package coach

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/guest-coach/internal/domain"
	"github.com/ashureev/guest-coach/internal/llm"
)

// ShouldSummarize reports whether this turn refreshes the rolling memory.
func ShouldSummarize(userTurns, aggregateChars int, t MemoryTuning) bool {
	if userTurns <= 0 {
		return false
	}
	return userTurns%t.EveryUserTurns == 0 || aggregateChars >= t.CharThreshold
}

// Memory is the compressed conversation record kept in SessionState.
type Memory struct {
	RollingSummary string
	UserFacts      []string
	OpenLoops      []string
}

// bounded applies the SessionState limits.
func (m Memory) bounded() Memory {
	return Memory{
		RollingSummary: domain.LimitWords(m.RollingSummary, domain.MaxSummaryWords),
		UserFacts:      domain.BoundList(m.UserFacts, domain.MaxUserFacts, domain.MaxUserFactChars),
		OpenLoops:      domain.BoundList(m.OpenLoops, domain.MaxOpenLoops, domain.MaxOpenLoopChars),
	}
}

// SummaryResult is the outcome of one summarization pass.
type SummaryResult struct {
	Memory    Memory
	Model     string
	Usage     llm.Usage
	Heuristic bool
}

// Summarizer compresses recent user turns into Memory.
type Summarizer struct {
	client  llm.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewSummarizer creates a Summarizer that calls model on client.
func NewSummarizer(client llm.Client, model string, timeout time.Duration, logger *slog.Logger) *Summarizer {
	if client == nil {
		client = llm.Disabled{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{client: client, model: model, timeout: timeout, logger: logger}
}

var summaryFields = []llm.Field{
	{Name: "rollingSummary", Type: llm.FieldString, Description: "At most 80 words summarizing the conversation so far."},
	{Name: "userFacts", Type: llm.FieldStringList, Description: "3 to 8 stable facts about the guest, each under 120 characters."},
	{Name: "openLoops", Type: llm.FieldStringList, Description: "1 to 6 unresolved decisions or tasks, each under 130 characters."},
}

var (
	summaryAliases = []string{"rollingSummary", "rolling_summary", "summary"}
	factAliases    = []string{"userFacts", "user_facts", "facts"}
	loopAliases    = []string{"openLoops", "open_loops", "loops", "openItems"}
)

// Summarize always returns a usable result: any model or parse failure
// degrades to the keyword heuristic.
func (s *Summarizer) Summarize(ctx context.Context, p Profile, st *domain.SessionState, userMessages []string) SummaryResult {
	if st == nil {
		st = &domain.SessionState{}
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	req := llm.Request{
		Model:           s.model,
		System:          "You maintain compact memory for a coaching conversation. Keep only what will help future replies. No diagnoses.",
		Prompt:          summaryPrompt(st, userMessages),
		Fields:          summaryFields,
		Temperature:     0.2,
		MaxOutputTokens: 500,
	}
	resp, err := s.client.Generate(ctx, req)
	if err != nil {
		s.logger.Warn("summary generation failed", "model", s.model, "error", err)
		return SummaryResult{Memory: heuristicMemory(p, st, userMessages), Heuristic: true}
	}

	usage := resp.Usage
	if usage.Total() == 0 {
		usage = llm.EstimateUsage(req.System+req.Prompt, resp.Text)
	}
	model := resp.Model
	if model == "" {
		model = s.model
	}

	mem, ok := parseMemory(resp.Text)
	if !ok {
		s.logger.Warn("summary response unparseable", "model", model)
		return SummaryResult{Memory: heuristicMemory(p, st, userMessages), Model: model, Usage: usage, Heuristic: true}
	}
	if len(mem.UserFacts) == 0 {
		mem.UserFacts = st.UserFacts
	}
	if len(mem.OpenLoops) == 0 {
		mem.OpenLoops = st.OpenLoops
	}
	if len(mem.UserFacts) == 0 || len(mem.OpenLoops) == 0 {
		h := heuristicMemory(p, st, userMessages)
		if len(mem.UserFacts) == 0 {
			mem.UserFacts = h.UserFacts
		}
		if len(mem.OpenLoops) == 0 {
			mem.OpenLoops = h.OpenLoops
		}
	}
	return SummaryResult{Memory: mem.bounded(), Model: model, Usage: usage}
}

func summaryPrompt(st *domain.SessionState, userMessages []string) string {
	var b strings.Builder
	if st.RollingSummary != "" {
		fmt.Fprintf(&b, "Current summary: %s\n", st.RollingSummary)
	}
	writeList(&b, "Current facts", st.UserFacts)
	writeList(&b, "Current open loops", st.OpenLoops)
	b.WriteString("Recent guest messages:\n")
	for _, m := range userMessages {
		fmt.Fprintf(&b, "- %s\n", domain.TruncateRunes(m, 600))
	}
	b.WriteString("Return an updated rollingSummary, userFacts and openLoops.\n")
	return b.String()
}

func parseMemory(raw string) (Memory, bool) {
	obj, ok := llm.DecodeObject(llm.StripFence(raw))
	if !ok {
		return Memory{}, false
	}
	m := Memory{
		RollingSummary: llm.LookupString(obj, summaryAliases),
		UserFacts:      llm.LookupList(obj, factAliases),
		OpenLoops:      llm.LookupList(obj, loopAliases),
	}
	if m.RollingSummary == "" {
		return Memory{}, false
	}
	return m, true
}

// heuristicMemory derives memory from the profile alone.
func heuristicMemory(p Profile, st *domain.SessionState, userMessages []string) Memory {
	topic := p.TopKeyword(defaultTopics[p.Intent])

	focus := topic
	if len(p.Keywords) > 1 {
		n := min(3, len(p.Keywords))
		focus = strings.Join(p.Keywords[:n], ", ")
	}
	summary := fmt.Sprintf("Guest is in the %s stage of a %s conversation, tone %s, focused on %s.",
		p.Stage, p.Intent, p.Tone, focus)

	counts := make(map[string]int)
	for _, m := range userMessages {
		for _, kw := range keywords(m, profileKeywords) {
			counts[kw]++
		}
	}
	// Fresh observations lead so they survive the cap over stale ones.
	var facts []string
	for _, kw := range p.Keywords {
		if counts[kw] >= 2 {
			facts = append(facts, fmt.Sprintf("Keeps returning to %s", kw))
		}
	}
	facts = boundFacts(append(facts, st.UserFacts...))
	for _, pad := range factPadding(p, topic) {
		if len(facts) >= minHeuristicFacts {
			break
		}
		facts = boundFacts(append(facts, pad))
	}

	loops := st.OpenLoops
	if len(loops) == 0 {
		loops = []string{fmt.Sprintf("Clarify next step on %s", topic)}
	}

	return Memory{RollingSummary: summary, UserFacts: facts, OpenLoops: loops}.bounded()
}

const minHeuristicFacts = 3

func boundFacts(facts []string) []string {
	return domain.BoundList(facts, domain.MaxUserFacts, domain.MaxUserFactChars)
}

// factPadding lists low-confidence facts used to reach minHeuristicFacts.
func factPadding(p Profile, topic string) []string {
	pads := make([]string, 0, len(p.Keywords)+3)
	for _, kw := range p.Keywords {
		pads = append(pads, fmt.Sprintf("Is focused on %s", kw))
	}
	return append(pads,
		fmt.Sprintf("Is focused on %s", topic),
		fmt.Sprintf("Is in the %s stage", p.Stage),
		fmt.Sprintf("Sounds %s", p.Tone),
	)
}
