package game

import (
	"errors"
	"sort"
)

var ErrEmptyPool = errors.New("character pool is empty")

// characterPools maps each fixed selector to its pool. The player-defined
// selector has no fixed pool; it is derived from the bets at resolve time.
var characterPools = map[CharacterSet]string{
	CharSetNumeric:   "0123456789",
	CharSetLowercase: "abcdefghijklmnopqrstuvwxyz",
	CharSetUppercase: "ABCDEFGHIJKLMNOPQRSTUVWXYZ",
}

// ResolvePool returns the ordered, de-duplicated draw pool for a round.
// For the player-defined selector the pool is the union of distinct
// characters across all submitted choices, sorted ascending so the pool
// itself is deterministic regardless of bet order.
func ResolvePool(set CharacterSet, choices []string) ([]rune, error) {
	if fixed, ok := characterPools[set]; ok {
		return []rune(fixed), nil
	}
	if set != CharSetPlayerDefined {
		return nil, ErrEmptyPool
	}

	seen := make(map[rune]struct{})
	var pool []rune
	for _, choice := range choices {
		for _, r := range choice {
			if _, ok := seen[r]; !ok {
				seen[r] = struct{}{}
				pool = append(pool, r)
			}
		}
	}
	if len(pool) == 0 {
		return nil, ErrEmptyPool
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i] < pool[j] })
	return pool, nil
}

// KnownSelector reports whether the selector names a fixed pool or the
// player-defined variant. Parameters with any other selector would reject
// every bet and loop create/expire forever.
func KnownSelector(set CharacterSet) bool {
	if _, ok := characterPools[set]; ok {
		return true
	}
	return set == CharSetPlayerDefined
}

// PoolContains reports whether every rune of s is drawable from the selector's
// fixed pool. Player-defined choices are always in their own pool.
func PoolContains(set CharacterSet, s string) bool {
	fixed, ok := characterPools[set]
	if !ok {
		return set == CharSetPlayerDefined
	}
	allowed := make(map[rune]struct{}, len(fixed))
	for _, r := range fixed {
		allowed[r] = struct{}{}
	}
	for _, r := range s {
		if _, ok := allowed[r]; !ok {
			return false
		}
	}
	return true
}
