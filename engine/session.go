package engine

import (
	"context"
	"strings"

	"github.com/jspreddy/dql/language"
)

// Session collects statement text that arrives in pieces, like lines typed
// into a shell, and runs it once every statement is terminated. It is not
// safe for concurrent use.
type Session struct {
	engine    *Engine
	fragments []string
	// LastQuery is the text of the last executed batch
	LastQuery string
}

// NewSession starts a session with no pending text
func (e *Engine) NewSession() *Session {
	return &Session{engine: e}
}

// Pending returns the text waiting for a terminating ';'
func (s *Session) Pending() string {
	return strings.Join(s.fragments, "\n")
}

// Execute adds a fragment. Until the text ends with a terminated statement
// the result only has Partial set and nothing runs. The pending text is
// cleared once it is submitted, whether it succeeds or not.
func (s *Session) Execute(ctx context.Context, fragment string) (*Result, error) {
	s.fragments = append(s.fragments, fragment)
	text := s.Pending()

	if !language.IsComplete(text) {
		return &Result{Partial: true}, nil
	}

	s.fragments = nil

	if strings.TrimSpace(text) == "" {
		return &Result{}, nil
	}

	s.LastQuery = text

	return s.engine.Execute(ctx, text)
}

// Reset drops the pending text
func (s *Session) Reset() {
	s.fragments = nil
}
