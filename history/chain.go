package history

import (
	"github.com/goliatone/go-indexer-cache/entity"
)

// Version is one entry of a chain: Data was the value of the entity from
// StartHeight up to, but excluding, EndHeight. A nil EndHeight marks the open
// entry.
type Version struct {
	Data           entity.Record
	StartHeight    int64
	EndHeight      *int64
	OperationIndex int64
	// Removed means the entity was removed at EndHeight.
	Removed bool
}

// Open reports whether the entry has no end height.
func (v Version) Open() bool { return v.EndHeight == nil }

// ZeroLength reports whether the entry covers no height at all.
func (v Version) ZeroLength() bool { return v.EndHeight != nil && *v.EndHeight == v.StartHeight }

// Covers reports whether the entry was valid at height h.
func (v Version) Covers(h int64) bool {
	return v.StartHeight <= h && (v.EndHeight == nil || h < *v.EndHeight)
}

// Removal closes the persisted chain of an entity that has no in-memory entry
// left at that height.
type Removal struct {
	Height         int64
	OperationIndex int64
}

// Chain is the in-memory version history of one entity, ordered by height.
//
// Entries never overlap, StartHeight strictly increases along the chain and
// only the last entry may be open. A Chain is not safe for concurrent use.
type Chain struct {
	versions []Version
}

// NewChain returns an empty chain.
func NewChain() *Chain { return &Chain{} }

func height(h int64) *int64 { return &h }

// Set records data as the value of the entity from atHeight onwards.
func (c *Chain) Set(data entity.Record, atHeight, opIndex int64) error {
	n := len(c.versions)
	if n == 0 {
		c.versions = append(c.versions, Version{Data: data, StartHeight: atHeight, OperationIndex: opIndex})
		return nil
	}

	last := &c.versions[n-1]
	if last.Open() {
		switch {
		case atHeight == last.StartHeight:
			last.Data = data
			last.OperationIndex = opIndex
			return nil
		case atHeight < last.StartHeight:
			return outOfOrder("set", atHeight, last.StartHeight)
		}
		last.EndHeight = height(atHeight)
		c.versions = append(c.versions, Version{Data: data, StartHeight: atHeight, OperationIndex: opIndex})
		return nil
	}

	end := *last.EndHeight
	if atHeight < end {
		return outOfOrder("set", atHeight, end)
	}
	if last.Removed && last.ZeroLength() && atHeight == end {
		last.Data = data
		last.EndHeight = nil
		last.Removed = false
		last.OperationIndex = opIndex
		return nil
	}
	c.versions = append(c.versions, Version{Data: data, StartHeight: atHeight, OperationIndex: opIndex})
	return nil
}

// MarkRemoved closes the open entry at atHeight and flags it as removed. It is
// a no-op when the latest entry is already closed.
func (c *Chain) MarkRemoved(atHeight, opIndex int64) error {
	n := len(c.versions)
	if n == 0 {
		return ErrEmptyChain
	}
	last := &c.versions[n-1]
	if !last.Open() {
		return nil
	}
	if atHeight < last.StartHeight {
		return outOfOrder("remove", atHeight, last.StartHeight)
	}
	last.EndHeight = height(atHeight)
	last.Removed = true
	last.OperationIndex = opIndex
	return nil
}

// Latest returns the last entry of the chain.
func (c *Chain) Latest() (Version, bool) {
	if len(c.versions) == 0 {
		return Version{}, false
	}
	return c.versions[len(c.versions)-1], true
}

// Current returns the latest value unless the entity has been removed.
func (c *Chain) Current() (entity.Record, bool) {
	v, ok := c.Latest()
	if !ok || v.Removed {
		return nil, false
	}
	return v.Data, true
}

// At returns the value the entity had at height h.
func (c *Chain) At(h int64) (entity.Record, bool) {
	for i := len(c.versions) - 1; i >= 0; i-- {
		v := c.versions[i]
		if v.Covers(h) {
			return v.Data, true
		}
		if v.StartHeight <= h {
			break
		}
	}
	return nil, false
}

// Versions returns a copy of the chain entries.
func (c *Chain) Versions() []Version {
	out := make([]Version, len(c.versions))
	copy(out, c.versions)
	return out
}

func (c *Chain) Len() int { return len(c.versions) }

func (c *Chain) Empty() bool { return len(c.versions) == 0 }

// MatchesField reports whether the current value satisfies a single filter.
func (c *Chain) MatchesField(field string, op entity.Operator, value any) bool {
	return c.MatchesFields([]entity.Filter{{Field: field, Op: op, Value: value}})
}

// MatchesFields reports whether the current value satisfies every filter.
// Removed entities never match.
func (c *Chain) MatchesFields(filters []entity.Filter) bool {
	data, ok := c.Current()
	if !ok {
		return false
	}
	return entity.Matches(data, filters)
}

// TruncateAbove forgets everything that happened after height h: entries
// starting after h are dropped and entries ending after h are reopened.
func (c *Chain) TruncateAbove(h int64) {
	kept := c.versions[:0]
	for _, v := range c.versions {
		if v.StartHeight > h {
			continue
		}
		if v.EndHeight != nil && *v.EndHeight > h {
			v.EndHeight = nil
			v.Removed = false
		}
		kept = append(kept, v)
	}
	clearTail(c.versions, len(kept))
	c.versions = kept
}

// TruncateBelow drops entries that ended at or before h; open entries and
// entries ending after h are kept.
func (c *Chain) TruncateBelow(h int64) {
	kept := c.versions[:0]
	for _, v := range c.versions {
		if v.EndHeight != nil && *v.EndHeight <= h {
			continue
		}
		kept = append(kept, v)
	}
	clearTail(c.versions, len(kept))
	c.versions = kept
}

// Release drops every entry starting at or before h, which a flush cut at h
// has persisted. When the dropped entries end in a removal after h, the
// removal is returned so it can still be written later.
func (c *Chain) Release(h int64) (Removal, bool) {
	c.TruncateBelow(h)

	var (
		rm      Removal
		pending bool
	)
	kept := c.versions[:0]
	for _, v := range c.versions {
		if v.StartHeight > h {
			kept = append(kept, v)
			continue
		}
		if v.Removed {
			rm = Removal{Height: *v.EndHeight, OperationIndex: v.OperationIndex}
			pending = true
		}
	}
	clearTail(c.versions, len(kept))
	c.versions = kept
	return rm, pending
}

// Clone returns a deep copy of the entry list. Record values are shared.
func (c *Chain) Clone() *Chain {
	out := &Chain{versions: make([]Version, len(c.versions))}
	for i, v := range c.versions {
		if v.EndHeight != nil {
			v.EndHeight = height(*v.EndHeight)
		}
		out.versions[i] = v
	}
	return out
}

// PopByOperationIndex removes the entry written by operation op. When the
// popped entry had closed its predecessor, the predecessor is reopened.
func (c *Chain) PopByOperationIndex(op int64) (Version, bool) {
	for i := len(c.versions) - 1; i >= 0; i-- {
		v := c.versions[i]
		if v.OperationIndex != op {
			continue
		}
		c.versions = append(c.versions[:i], c.versions[i+1:]...)
		if i > 0 && i == len(c.versions) {
			prev := &c.versions[i-1]
			if !prev.Removed && prev.EndHeight != nil && *prev.EndHeight == v.StartHeight {
				prev.EndHeight = nil
			}
		}
		return v, true
	}
	return Version{}, false
}

// Validate checks the chain invariants.
func (c *Chain) Validate() error {
	for i, v := range c.versions {
		if v.EndHeight != nil && *v.EndHeight < v.StartHeight {
			return invalid(i, "ends before it starts")
		}
		if v.Removed && v.EndHeight == nil {
			return invalid(i, "removed entry is open")
		}
		if i == 0 {
			continue
		}
		prev := c.versions[i-1]
		if prev.EndHeight == nil {
			return invalid(i-1, "open entry is not last")
		}
		if v.StartHeight <= prev.StartHeight {
			return invalid(i, "start height does not increase")
		}
		if v.StartHeight < *prev.EndHeight {
			return invalid(i, "overlaps previous entry")
		}
	}
	return nil
}

func clearTail(vs []Version, from int) {
	for i := from; i < len(vs); i++ {
		vs[i] = Version{}
	}
}
