package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheck(t *testing.T) {
	f := NewFilter()
	tests := []struct {
		text    string
		flagged bool
	}{
		{"I want to kill myself", true},
		{"sometimes I think about suicide", true},
		{"I just want to end my life", true},
		{"I don't want to wake up tomorrow", true},
		{"everyone would be better off without me", true},
		{"I've been self-harming again", true},
		{"I WANT TO DIE", true},
		{"this deadline is killing me", false},
		{"I want to quit my job and move abroad", false},
		{"I hurt my knee running", false},
		{"the project died last week", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			res := f.Check(tt.text)
			assert.Equal(t, tt.flagged, res.Flagged)
			if tt.flagged {
				assert.NotEmpty(t, res.Pattern)
			}
		})
	}
}

func TestReplyPointsToHelp(t *testing.T) {
	assert.Contains(t, Reply, "988")
	assert.Contains(t, Reply, "emergency")
}
