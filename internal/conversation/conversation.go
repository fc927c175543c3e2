// Package conversation derives canonical direct-conversation identifiers
// from participant pairs. The canonical form is order-independent so both
// sides of a chat always address the same conversation.
package conversation

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// prefix marks canonical direct-conversation ids, e.g. "dm:alice:bob".
	prefix = "dm"
	sep    = ":"
)

var (
	// ErrEmptyUserID is returned when a participant id is empty after normalization.
	ErrEmptyUserID = errors.New("conversation: empty user id")
	// ErrInvalidUserID is returned when a participant id contains the id separator.
	ErrInvalidUserID = errors.New("conversation: user id contains reserved separator")
	// ErrMalformedID is returned by Parse for strings that are not canonical ids.
	ErrMalformedID = errors.New("conversation: malformed conversation id")
)

// ID identifies a direct conversation between two users. It carries the
// parsed participant pair alongside the canonical string so delivery code
// never has to re-split the id.
type ID struct {
	// UserA is the lexicographically lower participant id, UserB the higher.
	UserA string
	UserB string
}

// NormalizeUserID returns the storage/comparison form of a user id:
// surrounding whitespace trimmed and lower-cased.
func NormalizeUserID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Direct returns the canonical ID for a conversation between a and b.
// It is order-independent: Direct(a, b) == Direct(b, a).
func Direct(a, b string) (ID, error) {
	a = NormalizeUserID(a)
	b = NormalizeUserID(b)
	if a == "" || b == "" {
		return ID{}, ErrEmptyUserID
	}
	if strings.Contains(a, sep) || strings.Contains(b, sep) {
		return ID{}, ErrInvalidUserID
	}
	if a > b {
		a, b = b, a
	}
	return ID{UserA: a, UserB: b}, nil
}

// Parse is the exact inverse of String. It rejects anything that String
// could not have produced, including pairs in non-canonical order.
func Parse(s string) (ID, error) {
	parts := strings.Split(s, sep)
	if len(parts) != 3 || parts[0] != prefix {
		return ID{}, fmt.Errorf("%w: %q", ErrMalformedID, s)
	}
	a, b := parts[1], parts[2]
	if a == "" || b == "" || a > b {
		return ID{}, fmt.Errorf("%w: %q", ErrMalformedID, s)
	}
	return ID{UserA: a, UserB: b}, nil
}

// String returns the canonical wire/storage form, "dm:<low>:<high>".
func (id ID) String() string {
	return prefix + sep + id.UserA + sep + id.UserB
}

// Participants returns both participant ids, lower id first.
func (id ID) Participants() (string, string) {
	return id.UserA, id.UserB
}

// Has reports whether user (already normalized) is one of the participants.
func (id ID) Has(user string) bool {
	return user == id.UserA || user == id.UserB
}
