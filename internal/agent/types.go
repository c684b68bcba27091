// Package agent binds LLM providers into prompt sessions with bounded,
// persistable conversation history.
package agent

import (
	"context"
	"strings"
	"time"
)

// Role identifies the author of a history message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of session history.
type Message struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Provider is a minimal completion interface over one LLM credential
// family.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, system string, history []Message) (string, error)
}

// overflowSignatures are the error fragments that identify a context-window
// overflow across the supported providers.
var overflowSignatures = []string{
	"maximum context",
	"context window",
	"context_length_exceeded",
	"context length",
	"prompt is too long",
	"input token count",
	"exceeds the maximum",
}

// IsContextOverflow reports whether err looks like a context-window
// overflow.
func IsContextOverflow(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	for _, sig := range overflowSignatures {
		if strings.Contains(text, sig) {
			return true
		}
	}
	return false
}
