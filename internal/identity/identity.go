// Package identity mints the opaque tokens that identify instances and
// non-null reference values across Host boundaries. Grounded on
// moby-moby's use of github.com/google/uuid for container/object
// identity: the same "cheap, collision-free, no central allocator"
// property applies here to externref values and Instance identities,
// since the spec's reference-type non-goal (no refcounting) still leaves
// a need to tell two non-null externrefs apart without aliasing a host
// pointer.
package identity

import "github.com/google/uuid"

// Token uniquely identifies one Instance or one non-null externref value
// for the lifetime of a process.
type Token uuid.UUID

// New mints a fresh, collision-free Token.
func New() Token { return Token(uuid.New()) }

func (t Token) String() string { return uuid.UUID(t).String() }

// IsZero reports whether t is the zero-value Token, used as the sentinel
// for "no identity assigned" (e.g. a null externref).
func (t Token) IsZero() bool { return t == Token{} }
