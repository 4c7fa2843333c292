package storage

import (
	"path"
	"time"

	"go.jetify.com/typeid"
)

// Session names a prefix in a store. Sessions nest: a child session's
// prefix is its parent's prefix plus its own ID, so related executions can
// share staged resources while keeping their outputs apart.
type Session struct {
	id      string
	parent  *Session
	created time.Time
}

// NewSession creates a root session. With an empty name, a unique ID is
// generated.
func NewSession(name string) *Session {
	return &Session{id: sessionID(name), created: time.Now()}
}

// Child creates a session nested under this one.
func (s *Session) Child(name string) *Session {
	return &Session{id: sessionID(name), parent: s, created: time.Now()}
}

// ID returns the session's own identifier.
func (s *Session) ID() string { return s.id }

// Parent returns the enclosing session, or nil for a root session.
func (s *Session) Parent() *Session { return s.parent }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.created }

// Prefix returns the full prefix from the root session down to this one.
func (s *Session) Prefix() string {
	if s.parent == nil {
		return s.id
	}
	return s.parent.Prefix() + "/" + s.id
}

// Key resolves a name relative to the session's prefix.
func (s *Session) Key(name string) string {
	return path.Join(s.Prefix(), name)
}

func sessionID(name string) string {
	if name != "" {
		return name
	}
	id, err := typeid.WithPrefix("session")
	if err != nil {
		panic(err)
	}
	return id.String()
}
