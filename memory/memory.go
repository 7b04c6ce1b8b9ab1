// Package memory stores what actuation learns and serves it back to perception
// and cognition.
//
// Every entry is addressed by a composite key "concept|name|axis_pos::axis_pos"
// whose index parts are sorted. A lookup names the concepts it accepts, the
// entry name and the index of the cell asking; how the stored index must relate
// to the query index is decided by the store's Match strategy.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidMatch indicates an unknown match strategy name.
var ErrInvalidMatch = errors.New("memory: invalid match strategy")

// Entry is one remembered value.
type Entry struct {
	Concept string
	Name    string
	Value   string
	Index   map[string]int
}

// Key returns the composite key of the entry.
func (e Entry) Key() string {
	return Key(e.Concept, e.Name, e.Index)
}

// Query describes a recollection.
type Query struct {
	// Concepts lists the concept names an entry may belong to.
	Concepts []string
	Name     string
	Index    map[string]int
}

// Store is the memory contract used by the agent.
type Store interface {
	// Remember persists an entry, replacing any entry with the same key.
	Remember(ctx context.Context, e Entry) error

	// Recollect returns the best matching value. The boolean is false when
	// nothing matches.
	Recollect(ctx context.Context, q Query) (string, bool, error)
}

// Backend is a Store that holds resources.
type Backend interface {
	Store
	Close() error
}

// Match selects how a stored index must relate to the query index.
type Match string

const (
	// MatchStrict accepts an entry whose index contains, or is contained in,
	// the query index, provided both are empty or both are non-empty. This is
	// the default.
	MatchStrict Match = "strict"

	// MatchExact accepts only an identical index.
	MatchExact Match = "exact"

	// MatchLoose accepts containment in either direction, including an empty
	// index on either side. Kept for compatibility with older memory files.
	MatchLoose Match = "loose"
)

// ParseMatch converts a string to a Match. The empty string is MatchStrict.
func ParseMatch(s string) (Match, error) {
	switch m := Match(s); m {
	case "":
		return MatchStrict, nil
	case MatchStrict, MatchExact, MatchLoose:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMatch, s)
}

var (
	keyEscaper   = strings.NewReplacer("%", "%25", "|", "%7C")
	keyUnescaper = strings.NewReplacer("%7C", "|", "%25", "%")
)

// Key builds the composite key concept|name|k1_v1::k2_v2. An empty index
// yields concept|name. A "|" or "%" in the concept or name is percent-encoded.
func Key(concept, name string, index map[string]int) string {
	head := keyEscaper.Replace(concept) + "|" + keyEscaper.Replace(name)
	parts := indexParts(index)
	if len(parts) == 0 {
		return head
	}
	return head + "|" + strings.Join(parts, "::")
}

// ParseKey splits a composite key. The returned index parts are "axis_pos"
// strings.
func ParseKey(key string) (concept, name string, index []string, ok bool) {
	fields := strings.SplitN(key, "|", 3)
	if len(fields) < 2 || fields[0] == "" || fields[1] == "" {
		return "", "", nil, false
	}
	if len(fields) == 3 {
		for _, p := range strings.Split(fields[2], "::") {
			if p != "" {
				index = append(index, p)
			}
		}
	}
	return keyUnescaper.Replace(fields[0]), keyUnescaper.Replace(fields[1]), index, true
}

func indexParts(index map[string]int) []string {
	parts := make([]string, 0, len(index))
	for k, v := range index {
		parts = append(parts, k+"_"+strconv.Itoa(v))
	}
	sort.Strings(parts)
	return parts
}

// score reports whether stored satisfies query under m and how many
// coordinates the two do not share.
func (m Match) score(stored, query []string) (int, bool) {
	inQuery := make(map[string]bool, len(query))
	for _, p := range query {
		inQuery[p] = true
	}
	shared := 0
	for _, p := range stored {
		if inQuery[p] {
			shared++
		}
	}
	unmatched := len(stored) + len(query) - 2*shared
	storedInQuery := shared == len(stored)
	queryInStored := shared == len(query)

	switch m {
	case MatchExact:
		return unmatched, storedInQuery && queryInStored
	case MatchLoose:
		return unmatched, storedInQuery || queryInStored
	default:
		if (len(stored) == 0) != (len(query) == 0) {
			return unmatched, false
		}
		return unmatched, storedInQuery || queryInStored
	}
}

// candidate is one stored key/value pair considered by selectBest.
type candidate struct {
	key   string
	value string
}

// selectBest picks the matching candidate with the fewest unmatched index
// coordinates, breaking ties by key order.
func selectBest(m Match, q Query, candidates []candidate) (candidate, bool) {
	query := indexParts(q.Index)
	slices.SortFunc(candidates, func(a, b candidate) int { return strings.Compare(a.key, b.key) })

	var (
		best      candidate
		bestScore = -1
	)
	for _, c := range candidates {
		concept, name, stored, ok := ParseKey(c.key)
		if !ok || name != q.Name || !slices.Contains(q.Concepts, concept) {
			continue
		}
		s, ok := m.score(stored, query)
		if !ok {
			continue
		}
		if bestScore < 0 || s < bestScore {
			best, bestScore = c, s
		}
	}
	return best, bestScore >= 0
}

// Option configures a store.
type Option func(*options)

type options struct {
	match  Match
	logger *slog.Logger
}

// WithMatch sets the match strategy.
func WithMatch(m Match) Option {
	return func(o *options) {
		o.match = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func collect(opts []Option) options {
	o := options{match: MatchStrict, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.match == "" {
		o.match = MatchStrict
	}
	return o
}
