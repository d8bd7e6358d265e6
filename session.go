package rowguard

import "context"

// Session is the identity context a request carries into authorization. The
// evaluator only ever asks it for the principal id, the role set and named
// properties; it never interpolates session state into query text. A nil
// Session means an unauthenticated caller.
type Session interface {
	UserID() string
	Roles() []string
	Property(name string) (any, bool)
}

// StaticSession is a Session backed by plain values. Request layers build
// one after resolving identity, so policy evaluation itself never blocks.
type StaticSession struct {
	ID       string         `json:"id"`
	RoleList []string       `json:"roles"`
	Props    map[string]any `json:"props"`
}

func (s *StaticSession) UserID() string { return s.ID }

func (s *StaticSession) Roles() []string { return s.RoleList }

func (s *StaticSession) Property(name string) (any, bool) {
	v, ok := s.Props[name]
	return v, ok
}

// SessionAuthenticated reports whether sess carries a principal id.
func SessionAuthenticated(sess Session) bool {
	return sess != nil && sess.UserID() != ""
}

// SessionSource resolves a principal id to a full session before the
// capability gate runs. Any I/O (role lookups, profile properties) happens
// here; the gate and the row filter stay synchronous and CPU-bound.
type SessionSource interface {
	Lookup(ctx context.Context, userID string) (Session, error)
}
