// Package routing implements the deterministic operation-routing
// function (§4.D): mapping (index, id, routing, preference) onto an
// ordered iterator of shard copies.
package routing

import (
	"github.com/spaolacci/murmur3"
)

// Hash32Seed0 computes the 32-bit Murmur3 hash (seed 0) of key,
// interpreted as a signed int32 the way the routing formula does
// (floorMod requires a signed dividend to behave like Java's
// Math.floorMod). Routing correctness depends on this being bit-exact
// across implementations (§4.D, §8 property 2) — delegated to
// github.com/spaolacci/murmur3, the canonical Go 32-bit Murmur3
// implementation, rather than hand-rolled.
func Hash32Seed0(key string) int32 {
	return int32(murmur3.Sum32WithSeed([]byte(key), 0))
}

// FloorMod is Euclidean floor-mod: the result always has the sign of
// y (or is zero), matching Java's Math.floorMod which the original
// routing formula relies on (§4.D step 3).
func FloorMod(x, y int32) int32 {
	r := x % y
	if (r > 0 && y < 0) || (r < 0 && y > 0) {
		r += y
	}
	return r
}
