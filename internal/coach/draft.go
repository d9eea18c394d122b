package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/guest-coach/internal/domain"
	"github.com/ashureev/guest-coach/internal/llm"
)

// Field length bounds for every draft, model-generated or not.
const (
	MaxReflectionChars = 600
	MaxActionChars     = 400
	MaxQuestionChars   = 240
)

// errUnparseable marks a model response that did not yield all three fields.
var errUnparseable = errors.New("draft response missing required fields")

// Draft is the three-part coaching reply before rendering.
type Draft struct {
	Reflection       string `json:"reflection"`
	ActionStep       string `json:"actionStep"`
	FollowUpQuestion string `json:"followUpQuestion"`
}

// Complete reports whether all three fields are non-empty.
func (d Draft) Complete() bool {
	return strings.TrimSpace(d.Reflection) != "" &&
		strings.TrimSpace(d.ActionStep) != "" &&
		strings.TrimSpace(d.FollowUpQuestion) != ""
}

// Bounded trims each field and clamps it to its length bound.
func (d Draft) Bounded() Draft {
	return Draft{
		Reflection:       domain.TruncateRunes(strings.TrimSpace(d.Reflection), MaxReflectionChars),
		ActionStep:       domain.TruncateRunes(strings.TrimSpace(d.ActionStep), MaxActionChars),
		FollowUpQuestion: domain.TruncateRunes(strings.TrimSpace(d.FollowUpQuestion), MaxQuestionChars),
	}
}

// DraftContext is everything the prompt is composed from.
type DraftContext struct {
	Profile      Profile
	Lens         Lens
	State        *domain.SessionState
	Snapshot     *domain.Snapshot
	RecentTurns  []domain.ConversationTurn
	AvoidPhrases []string
	Text         string
}

// Generator issues structured draft requests to the language model.
type Generator struct {
	client  llm.Client
	models  Models
	timeout time.Duration
	logger  *slog.Logger
}

// NewGenerator creates a Generator. A nil client disables model calls.
func NewGenerator(client llm.Client, models Models, timeout time.Duration, logger *slog.Logger) *Generator {
	if client == nil {
		client = llm.Disabled{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{client: client, models: models, timeout: timeout, logger: logger}
}

var draftFields = []llm.Field{
	{Name: "reflection", Type: llm.FieldString, Description: "One or two sentences mirroring the guest's situation in fresh words."},
	{Name: "actionStep", Type: llm.FieldString, Description: "One concrete, small action the guest can take soon."},
	{Name: "followUpQuestion", Type: llm.FieldString, Description: "One open question that moves the conversation forward."},
}

// Generate requests a draft. Provider failures return an error; a response
// that cannot be parsed returns errUnparseable. Usage is returned in both
// cases when a response was received.
func (g *Generator) Generate(ctx context.Context, dc DraftContext, tier Tier, forceVariation bool, rejected string) (*Draft, llm.Usage, string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	req := llm.Request{
		Model:           g.models.For(tier),
		System:          systemInstruction(forceVariation),
		Prompt:          draftPrompt(dc, forceVariation, rejected),
		Fields:          draftFields,
		Temperature:     0.8,
		MaxOutputTokens: 700,
	}
	if forceVariation {
		req.Temperature = 1.0
	}

	resp, err := g.client.Generate(ctx, req)
	if err != nil {
		return nil, llm.Usage{}, req.Model, err
	}
	usage := resp.Usage
	if usage.Total() == 0 {
		usage = llm.EstimateUsage(req.System+req.Prompt, resp.Text)
	}
	model := resp.Model
	if model == "" {
		model = req.Model
	}

	draft, ok := parseDraft(resp.Text)
	if !ok {
		g.logger.Warn("draft response unparseable", "model", model, "response_len", len(resp.Text))
		return nil, usage, model, errUnparseable
	}
	bounded := draft.Bounded()
	return &bounded, usage, model, nil
}

func systemInstruction(forceVariation bool) string {
	var b strings.Builder
	b.WriteString("You are a warm, direct personal coach talking with a guest in a short chat.\n")
	b.WriteString("Never diagnose, label conditions, or use clinical or therapeutic framing.\n")
	b.WriteString("Write adaptive, specific language grounded in the guest's own words. Avoid templates and stock phrases.\n")
	b.WriteString("Do not use generic questions such as:\n")
	for _, q := range bannedQuestionExamples {
		b.WriteString("- ")
		b.WriteString(q)
		b.WriteString("\n")
	}
	b.WriteString("Return exactly three fields: reflection, actionStep, followUpQuestion.\n")
	if forceVariation {
		b.WriteString("Your previous draft was rejected for repeating earlier replies. Produce a materially different angle with new wording and a different action.\n")
	}
	return b.String()
}

func draftPrompt(dc DraftContext, forceVariation bool, rejected string) string {
	var b strings.Builder
	p := dc.Profile

	if dc.Lens != "" {
		fmt.Fprintf(&b, "Coaching lens: %s. %s\n", dc.Lens, lensInstructions[dc.Lens])
	}
	fmt.Fprintf(&b, "Profile: intent=%s tone=%s stage=%s keywords=%s\n",
		p.Intent, p.Tone, p.Stage, strings.Join(p.Keywords, ", "))

	if st := dc.State; st != nil {
		if st.RollingSummary != "" {
			fmt.Fprintf(&b, "Conversation so far: %s\n", st.RollingSummary)
		}
		writeList(&b, "Known about the guest", st.UserFacts)
		writeList(&b, "Open loops", st.OpenLoops)
	}
	if snap := dc.Snapshot; snap != nil && snap.Purpose != "" {
		fmt.Fprintf(&b, "Purpose snapshot: %s", snap.Purpose)
		if len(snap.Values) > 0 {
			fmt.Fprintf(&b, " (values: %s)", strings.Join(snap.Values, ", "))
		}
		b.WriteString("\n")
	}

	if len(dc.RecentTurns) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, t := range dc.RecentTurns {
			speaker := "Guest"
			if t.Role == domain.RoleAssistant {
				speaker = "Coach"
			}
			fmt.Fprintf(&b, "%s: %s\n", speaker, domain.TruncateRunes(t.Content, 500))
		}
	}

	if len(dc.AvoidPhrases) > 0 {
		b.WriteString("Do not reuse these phrases from earlier replies:\n")
		for _, phrase := range dc.AvoidPhrases {
			fmt.Fprintf(&b, "- %q\n", phrase)
		}
	}
	if forceVariation && rejected != "" {
		fmt.Fprintf(&b, "Avoid this rejected draft entirely:\n%s\n", domain.TruncateRunes(rejected, 800))
	}

	fmt.Fprintf(&b, "Guest message:\n%s\n", dc.Text)
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(title)
	b.WriteString(":\n")
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteString("\n")
	}
}

// Field aliases accepted from model JSON, in priority order.
var (
	reflectionAliases = []string{"reflection", "reflect", "insight", "mirror"}
	actionAliases     = []string{"actionStep", "action_step", "action", "nextStep", "next_step", "step"}
	questionAliases   = []string{"followUpQuestion", "follow_up_question", "followupQuestion", "question", "deeperQuestion", "deeper_question"}
)

// parseDraft decodes structured JSON first and falls back to labeled lines.
func parseDraft(raw string) (Draft, bool) {
	raw = llm.StripFence(raw)
	if obj, ok := llm.DecodeObject(raw); ok {
		d := Draft{
			Reflection:       llm.LookupString(obj, reflectionAliases),
			ActionStep:       llm.LookupString(obj, actionAliases),
			FollowUpQuestion: llm.LookupString(obj, questionAliases),
		}
		if d.Complete() {
			return d, true
		}
	}
	d := parseLabeled(raw)
	return d, d.Complete()
}

var labelLine = regexp.MustCompile(`(?i)^[\s*#>\-]*\**\s*(reflection|action(?:\s+step)?|next\s+step|(?:deeper\s+|follow[\s-]?up\s+)?question)\s*\**\s*:\s*\**\s*(.*)$`)

// parseLabeled reads "Reflection:", "Action:"/"Next step:" and
// "Question:"/"Deeper question:" lines. Unlabeled lines continue the
// current field.
func parseLabeled(raw string) Draft {
	var d Draft
	var current *string
	for _, line := range strings.Split(raw, "\n") {
		if m := labelLine.FindStringSubmatch(line); m != nil {
			label := strings.ToLower(m[1])
			switch {
			case strings.HasPrefix(label, "reflection"):
				current = &d.Reflection
			case strings.HasPrefix(label, "action"), strings.HasPrefix(label, "next"):
				current = &d.ActionStep
			default:
				current = &d.FollowUpQuestion
			}
			*current = strings.TrimSpace(m[2])
			continue
		}
		if current != nil && strings.TrimSpace(line) != "" {
			*current = strings.TrimSpace(*current + " " + strings.TrimSpace(line))
		}
	}
	return d
}
