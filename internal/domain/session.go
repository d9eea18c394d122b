package domain

import (
	"time"
)

// SessionStatus marks whether a conversation thread accepts new turns.
type SessionStatus string

const (
	// SessionActive is the single open thread for a guest.
	SessionActive SessionStatus = "active"
	// SessionArchived threads are read-only history.
	SessionArchived SessionStatus = "archived"
)

// Session is one conversation thread. A guest has at most one active session.
type Session struct {
	SessionID string        `json:"session_id"`
	GuestID   string        `json:"guest_id"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TurnMode records which pipeline produced (or consumed) a turn.
type TurnMode string

const (
	// ModeCoach turns went through the coaching pipeline.
	ModeCoach TurnMode = "coach"
	// ModeSafety turns were intercepted by the self-harm filter.
	ModeSafety TurnMode = "safety"
	// ModeClarify marks assistant clarifying questions.
	ModeClarify TurnMode = "clarify"
)

// ConversationTurn is an immutable message in a session.
type ConversationTurn struct {
	TurnID    string    `json:"turn_id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Mode      TurnMode  `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
}

// UserTurns returns the user-authored turns in order.
func UserTurns(turns []ConversationTurn) []ConversationTurn {
	var out []ConversationTurn
	for _, t := range turns {
		if t.Role == RoleUser {
			out = append(out, t)
		}
	}
	return out
}

// RecentTurns returns the last n turns matching keep, oldest first.
func RecentTurns(turns []ConversationTurn, n int, keep func(ConversationTurn) bool) []ConversationTurn {
	var out []ConversationTurn
	for i := len(turns) - 1; i >= 0 && len(out) < n; i-- {
		if keep(turns[i]) {
			out = append(out, turns[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
