// Package dedupe groups catalog entries by content identity and picks a
// deterministic keeper for every group.
package dedupe

import (
	"sort"

	"magnolia/internal/catalog"
)

// Role describes an entry's part in duplicate handling.
type Role string

const (
	RoleUnique    Role = "unique"
	RoleKeeper    Role = "keeper"
	RoleRedundant Role = "redundant"
)

// Set is a group of two or more content-identical entries.
type Set struct {
	ContentHash string          `json:"contentHash"`
	Size        int64           `json:"size"`
	Keeper      catalog.Entry   `json:"keeper"`
	Redundant   []catalog.Entry `json:"redundant"`
}

// Members returns the keeper followed by the redundant entries.
func (s Set) Members() []catalog.Entry {
	return append([]catalog.Entry{s.Keeper}, s.Redundant...)
}

// ReclaimableBytes is the space freed if every redundant copy is removed.
func (s Set) ReclaimableBytes() int64 {
	return s.Size * int64(len(s.Redundant))
}

type groupKey struct {
	hash string
	size int64
}

// Analyze partitions hashed entries by (contentHash, size) and returns one Set
// per group with more than one member, sorted by keeper path. Entries without
// a hash are never grouped.
func Analyze(entries []catalog.Entry) []Set {
	groups := make(map[groupKey][]catalog.Entry)
	for _, entry := range entries {
		if !entry.HasHash() {
			continue
		}
		key := groupKey{hash: entry.ContentHash, size: entry.Size}
		groups[key] = append(groups[key], entry)
	}

	sets := make([]Set, 0)
	for key, members := range groups {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return keeperLess(members[i], members[j]) })
		sets = append(sets, Set{
			ContentHash: key.hash,
			Size:        key.size,
			Keeper:      members[0],
			Redundant:   append([]catalog.Entry(nil), members[1:]...),
		})
	}
	sort.Slice(sets, func(i, j int) bool { return sets[i].Keeper.Path < sets[j].Keeper.Path })
	return sets
}

// keeperLess orders candidates: earliest createdAt, then shortest path, then
// lexical path.
func keeperLess(a, b catalog.Entry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	if len(a.Path) != len(b.Path) {
		return len(a.Path) < len(b.Path)
	}
	return a.Path < b.Path
}

// Roles maps every path in sets to keeper or redundant. Paths absent from the
// map are unique.
func Roles(sets []Set) map[string]Role {
	roles := make(map[string]Role)
	for _, set := range sets {
		roles[set.Keeper.Path] = RoleKeeper
		for _, entry := range set.Redundant {
			roles[entry.Path] = RoleRedundant
		}
	}
	return roles
}

// RoleOf returns the role for path, defaulting to unique.
func RoleOf(roles map[string]Role, path string) Role {
	if role, ok := roles[path]; ok {
		return role
	}
	return RoleUnique
}

// KeeperOf maps every redundant path to its keeper's path.
func KeeperOf(sets []Set) map[string]string {
	keepers := make(map[string]string)
	for _, set := range sets {
		for _, entry := range set.Redundant {
			keepers[entry.Path] = set.Keeper.Path
		}
	}
	return keepers
}

// Summary aggregates duplicate statistics for reports.
type Summary struct {
	Sets             int   `json:"sets"`
	RedundantFiles   int   `json:"redundantFiles"`
	ReclaimableBytes int64 `json:"reclaimableBytes"`
}

// Summarize totals the sets.
func Summarize(sets []Set) Summary {
	var s Summary
	for _, set := range sets {
		s.Sets++
		s.RedundantFiles += len(set.Redundant)
		s.ReclaimableBytes += set.ReclaimableBytes()
	}
	return s
}
