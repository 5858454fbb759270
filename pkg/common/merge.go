package common

import (
	"fmt"
	"slices"
	"time"
)

// TypeResolution decides which entity type survives a merge.
type TypeResolution string

const (
	// TypeFirst keeps the type that was written first.
	TypeFirst TypeResolution = "first"
	// TypeLatest lets every new observation overwrite the type.
	TypeLatest TypeResolution = "latest"
)

// StrengthCombine decides how the strength of a relation evolves when the
// same edge is observed again.
type StrengthCombine string

const (
	// StrengthMax keeps the maximum observed strength.
	StrengthMax StrengthCombine = "max"
	// StrengthMean keeps the running average over all contributing chunks.
	StrengthMean StrengthCombine = "mean"
	// StrengthSum adds every observation.
	StrengthSum StrengthCombine = "sum"
)

// MergePolicy bundles the configurable parts of a merge.
type MergePolicy struct {
	Type     TypeResolution
	Strength StrengthCombine
}

// DefaultMergePolicy is first-write-wins for types and max for strengths.
func DefaultMergePolicy() MergePolicy {
	return MergePolicy{Type: TypeFirst, Strength: StrengthMax}
}

func (p MergePolicy) Validate() error {
	switch p.Type {
	case TypeFirst, TypeLatest:
	default:
		return fmt.Errorf("unknown type resolution %q", p.Type)
	}
	switch p.Strength {
	case StrengthMax, StrengthMean, StrengthSum:
	default:
		return fmt.Errorf("unknown strength combine rule %q", p.Strength)
	}
	return nil
}

// MergeEntity merges incoming into existing and reports whether the stored
// value changed. A nil existing creates the entity.
//
// An observation is identified by its source chunks: if incoming carries
// no chunk id that existing does not already have, it was applied before
// and is ignored. This keeps re-ingestion idempotent even after the
// description has been summarized.
func MergeEntity(existing *Entity, incoming Entity, policy MergePolicy) (Entity, bool) {
	if existing == nil {
		out := incoming
		out.Description = JoinFragments(appendNewFragments(nil, SplitFragments(incoming.Description)))
		out.SourceChunkIDs = UnionSorted(nil, incoming.SourceChunkIDs)
		return out, true
	}

	out := *existing
	fresh := newIDs(existing.SourceChunkIDs, incoming.SourceChunkIDs)
	if len(fresh) == 0 {
		return out, false
	}

	fragments := SplitFragments(existing.Description)
	out.Description = JoinFragments(appendNewFragments(fragments, SplitFragments(incoming.Description)))
	out.SourceChunkIDs = UnionSorted(existing.SourceChunkIDs, fresh)
	out.Type = resolveType(existing.Type, incoming.Type, policy.Type)
	out.CreatedAt = earliest(existing.CreatedAt, incoming.CreatedAt)
	return out, true
}

// MergeRelation merges incoming into existing, see MergeEntity for the
// idempotency rule. Both values are canonicalized first.
func MergeRelation(existing *Relation, incoming Relation, policy MergePolicy) (Relation, bool) {
	incoming = incoming.Canonical()
	if existing == nil {
		out := incoming
		out.Description = JoinFragments(appendNewFragments(nil, SplitFragments(incoming.Description)))
		out.Keywords = UnionSorted(nil, incoming.Keywords)
		out.SourceChunkIDs = UnionSorted(nil, incoming.SourceChunkIDs)
		return out, true
	}

	out := existing.Canonical()
	fresh := newIDs(existing.SourceChunkIDs, incoming.SourceChunkIDs)
	if len(fresh) == 0 {
		return out, false
	}

	out.Description = JoinFragments(appendNewFragments(SplitFragments(existing.Description), SplitFragments(incoming.Description)))
	out.Keywords = UnionSorted(existing.Keywords, incoming.Keywords)
	out.Strength = combineStrength(existing.Strength, len(existing.SourceChunkIDs), incoming.Strength, len(fresh), policy.Strength)
	out.SourceChunkIDs = UnionSorted(existing.SourceChunkIDs, fresh)
	out.CreatedAt = earliest(existing.CreatedAt, incoming.CreatedAt)
	return out, true
}

func combineStrength(old float64, oldN int, s float64, n int, rule StrengthCombine) float64 {
	switch rule {
	case StrengthSum:
		return old + s
	case StrengthMean:
		if oldN+n == 0 {
			return s
		}
		return (old*float64(oldN) + s*float64(n)) / float64(oldN+n)
	default:
		return max(old, s)
	}
}

func resolveType(current, incoming string, rule TypeResolution) string {
	switch {
	case incoming == "" || incoming == UnknownEntityType:
		return current
	case current == "" || current == UnknownEntityType:
		return incoming
	case rule == TypeLatest:
		return incoming
	default:
		return current
	}
}

// appendNewFragments appends every fragment not yet recorded verbatim.
func appendNewFragments(fragments, incoming []string) []string {
	for _, f := range incoming {
		if !slices.Contains(fragments, f) {
			fragments = append(fragments, f)
		}
	}
	return fragments
}

func newIDs(have, incoming []string) []string {
	var fresh []string
	for _, id := range incoming {
		if id != "" && !slices.Contains(have, id) && !slices.Contains(fresh, id) {
			fresh = append(fresh, id)
		}
	}
	return fresh
}

func earliest(a, b time.Time) time.Time {
	switch {
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	case b.Before(a):
		return b
	default:
		return a
	}
}
