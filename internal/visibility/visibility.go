// Package visibility decides what a caller may see and edit.
package visibility

import "github.com/starford/councilhub/internal/auth"

// Scope is the effective read/write scope of a request.
type Scope struct {
	OnlyVisible bool
	Editable    bool
}

// AnonymousScope applies to unauthenticated callers and viewer routes.
var AnonymousScope = Scope{OnlyVisible: true}

// Policy grants privilege to callers.
type Policy interface {
	IsPrivileged(c auth.Caller) bool
}

// SessionPolicy treats every logged-in caller as privileged.
type SessionPolicy struct{}

func (SessionPolicy) IsPrivileged(c auth.Caller) bool {
	return c.Authenticated
}

// ScopeFor returns the scope p grants to c.
func ScopeFor(p Policy, c auth.Caller) Scope {
	if p != nil && p.IsPrivileged(c) {
		return Scope{OnlyVisible: false, Editable: true}
	}
	return AnonymousScope
}
