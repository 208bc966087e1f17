// Package domain contains the core types shared by the resolution pipeline.
package domain

import (
	"time"
)

// DialogState is the per-session position in the dialog state machines.
type DialogState string

const (
	StateIdle                  DialogState = "IDLE"
	StateAwaitingConfirmation  DialogState = "AWAITING_CONFIRMATION"
	StateAwaitingClarification DialogState = "AWAITING_CLARIFICATION"
)

// SessionKey joins a user and session id into a map key.
func SessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of a user's conversation history.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationContext is the recent history handed to the remote reasoning service.
type ConversationContext struct {
	Messages []Message         `json:"messages"`
	Entities map[string]string `json:"entities,omitempty"`
}
