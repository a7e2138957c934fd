package followset

import (
	"strings"
	"time"
)

const addressPrefixCharacter = "@"

// FollowSet holds the set of identifiers an account follows. Membership keys
// are lowercase-normalized on insert and lookup, so matching is
// case-insensitive throughout. The set is built once per run and read-only
// afterwards.
type FollowSet struct {
	Owner     string
	FetchedAt time.Time
	members   map[string]struct{}
}

// New constructs an empty follow set for the given owner.
func New(owner string) *FollowSet {
	return &FollowSet{
		Owner:     owner,
		FetchedAt: time.Now().UTC(),
		members:   make(map[string]struct{}),
	}
}

// FromIdentifiers constructs a follow set containing the given identifiers.
func FromIdentifiers(owner string, identifiers []string) *FollowSet {
	followSet := New(owner)
	for _, identifier := range identifiers {
		followSet.Add(identifier)
	}
	return followSet
}

// Add inserts an identifier into the set under its normalized key. Blank
// identifiers are ignored.
func (followSet *FollowSet) Add(identifier string) {
	normalized := normalizeKey(identifier)
	if normalized == "" {
		return
	}
	followSet.members[normalized] = struct{}{}
}

// Contains reports whether the identifier is a member of the set.
func (followSet *FollowSet) Contains(identifier string) bool {
	_, member := followSet.members[normalizeKey(identifier)]
	return member
}

// Size returns the number of members in the set.
func (followSet *FollowSet) Size() int {
	return len(followSet.members)
}

func normalizeKey(identifier string) string {
	normalized := strings.ToLower(strings.TrimSpace(identifier))
	return strings.TrimPrefix(normalized, addressPrefixCharacter)
}
