package coach

import (
	"strings"
)

var sectionLabels = []string{"reflection:", "action step:", "question:"}

var (
	reflectionLeadIns = []string{
		"Here's what I'm hearing:",
		"What stands out to me:",
		"Reflecting this back:",
		"From what you've shared:",
	}
	actionLeadIns = []string{
		"One move to try:",
		"A concrete next step:",
		"Something to test this week:",
		"To build momentum:",
	}
	questionLeadIns = []string{
		"To go deeper:",
		"Worth sitting with:",
		"A question for you:",
		"Let me ask:",
	}
)

func allLeadIns() []string {
	out := make([]string, 0, len(reflectionLeadIns)+len(actionLeadIns)+len(questionLeadIns))
	out = append(out, reflectionLeadIns...)
	out = append(out, actionLeadIns...)
	return append(out, questionLeadIns...)
}

// Render flattens a draft into the public reply format: three labeled
// sections in fixed order, each opened by a seeded lead-in.
func Render(d Draft, seed string) string {
	var b strings.Builder
	b.WriteString("Reflection: ")
	b.WriteString(pick(seed+"|r", reflectionLeadIns))
	b.WriteString(" ")
	b.WriteString(d.Reflection)
	b.WriteString("\n\nAction step: ")
	b.WriteString(pick(seed+"|a", actionLeadIns))
	b.WriteString(" ")
	b.WriteString(d.ActionStep)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(pick(seed+"|q", questionLeadIns))
	b.WriteString(" ")
	b.WriteString(d.FollowUpQuestion)
	return b.String()
}
