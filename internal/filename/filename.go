// Package filename turns client-supplied file names into storage-safe,
// collision-free blob names.
package filename

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/starford/councilhub/internal/apperr"
)

// unsafeRe matches anything outside letters, digits, underscore, CJK
// ideographs, parentheses, dot and hyphen.
var unsafeRe = regexp.MustCompile(`[^\p{L}\p{N}_\x{4e00}-\x{9fa5}().\-]`)

// Lookup reports whether a persisted file already uses a safe name.
type Lookup interface {
	SafeNameExists(ctx context.Context, name string) (bool, error)
}

// Allocator produces safe names. It does not reserve them: a name is only
// taken once a file row is persisted.
type Allocator struct {
	lookup Lookup
	now    func() time.Time
}

// Option customises an Allocator.
type Option func(*Allocator)

// WithClock overrides the time source used for collision suffixes.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

// New returns an Allocator consulting lookup for collisions.
func New(lookup Lookup, opts ...Option) *Allocator {
	a := &Allocator{lookup: lookup, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Sanitize rewrites disallowed characters to underscores, treating the part
// after the last dot as the extension.
func Sanitize(original string) (string, error) {
	i := strings.LastIndex(original, ".")
	if i < 0 {
		return "", apperr.Validationf("file name %q has no extension", original)
	}
	base := unsafeRe.ReplaceAllString(original[:i], "_")
	ext := unsafeRe.ReplaceAllString(original[i+1:], "_")
	return base + "." + ext, nil
}

// Allocate returns the sanitized name, or base_{unixSeconds}.ext when a file
// with that name is already persisted. Should the stamped name be taken as
// well, _2, _3... is appended to it until the lookup reports a free name.
func (a *Allocator) Allocate(ctx context.Context, original string) (string, error) {
	return a.AllocateIn(ctx, original, nil)
}

// AllocateIn is Allocate that also treats the names in seen as taken and
// records the result there. Uploads of one request share a seen set so no
// two parts target the same blob.
func (a *Allocator) AllocateIn(ctx context.Context, original string, seen map[string]struct{}) (string, error) {
	safe, err := Sanitize(original)
	if err != nil {
		return "", err
	}
	taken := func(name string) (bool, error) {
		if _, ok := seen[name]; ok {
			return true, nil
		}
		return a.lookup.SafeNameExists(ctx, name)
	}

	candidate := safe
	busy, err := taken(candidate)
	if err != nil {
		return "", err
	}
	if busy {
		base, ext := split(safe)
		stamped := fmt.Sprintf("%s_%d", base, a.now().Unix())
		candidate = stamped + "." + ext
		for n := 2; ; n++ {
			if busy, err = taken(candidate); err != nil {
				return "", err
			}
			if !busy {
				break
			}
			candidate = fmt.Sprintf("%s_%d.%s", stamped, n, ext)
		}
	}
	if seen != nil {
		seen[candidate] = struct{}{}
	}
	return candidate, nil
}

func split(safe string) (string, string) {
	i := strings.LastIndex(safe, ".")
	return safe[:i], safe[i+1:]
}
