// Package browser drives a single Chrome process for agent use: session
// management over CDP attach or direct launch, numbered element snapshots,
// and ref-addressed click/type/screenshot operations.
package browser

import (
	"errors"
	"fmt"
	"time"
)

// Mode selects how the controller obtains its browser.
type Mode string

const (
	// ModeCDP attaches to an already-running browser over a debugger URL.
	ModeCDP Mode = "cdp"
	// ModeLaunch spawns the configured executable.
	ModeLaunch Mode = "launch"
)

// ErrNoSession is returned for operations on unknown session ids.
var ErrNoSession = errors.New("browser session not found")

// refNotFoundError tells the caller the numbered reference went stale and a
// fresh snapshot is needed.
func refNotFoundError(ref int) error {
	return fmt.Errorf("Ref %d not found. Run nx_chrome_session_snapshot again.", ref)
}

// SessionInfo is the externally visible state of one browser session.
type SessionInfo struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ElementDescriptor is one interactive element found by a snapshot.
type ElementDescriptor struct {
	Ref         int     `json:"ref"`
	Tag         string  `json:"tag"`
	ID          string  `json:"id,omitempty"`
	Role        string  `json:"role,omitempty"`
	Name        string  `json:"name,omitempty"`
	Type        string  `json:"type,omitempty"`
	Text        string  `json:"text,omitempty"`
	AriaLabel   string  `json:"ariaLabel,omitempty"`
	Placeholder string  `json:"placeholder,omitempty"`
	Href        string  `json:"href,omitempty"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
}

// PageSnapshot is the result of numbering a page's interactive elements.
type PageSnapshot struct {
	SessionID string              `json:"sessionId"`
	URL       string              `json:"url"`
	Title     string              `json:"title"`
	Timestamp time.Time           `json:"timestamp"`
	Elements  []ElementDescriptor `json:"elements"`
}

// SnapshotOptions tunes one snapshot call.
type SnapshotOptions struct {
	IncludeInvisible bool
	MaxElements      int
}

// TypeOptions tunes TypeByRef.
type TypeOptions struct {
	Clear      bool
	PressEnter bool
}
