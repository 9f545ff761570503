// Package seededrand provides the deterministic pseudo-random generator that
// every stochastic part of the simulation draws from.
//
// The seed string is expanded with cyrb128 over its UTF-16 code units and the
// stream is produced by xoshiro128**. Both are defined on 32-bit words only, so
// a browser client and this server produce the same sequence for the same seed.
package seededrand

import (
	"math/bits"
	"unicode/utf16"
)

// Generator is a seeded xoshiro128** generator. It is not safe for concurrent
// use; one simulation context owns one generator.
type Generator struct {
	s     [4]uint32
	calls uint64
}

// New creates a generator from a seed string. Any string, including the empty
// one, yields a valid nonzero state.
func New(seed string) *Generator {
	g := &Generator{s: hashSeed(seed)}
	if g.s == [4]uint32{} {
		g.s[0] = 1
	}
	return g
}

// hashSeed is cyrb128.
func hashSeed(seed string) [4]uint32 {
	h1 := uint32(1779033703)
	h2 := uint32(3144134277)
	h3 := uint32(1013904242)
	h4 := uint32(2773480762)

	for _, unit := range utf16.Encode([]rune(seed)) {
		k := uint32(unit)
		h1 = h2 ^ ((h1 ^ k) * 597399067)
		h2 = h3 ^ ((h2 ^ k) * 2869860233)
		h3 = h4 ^ ((h3 ^ k) * 951274213)
		h4 = h1 ^ ((h4 ^ k) * 2716044179)
	}

	h1 = (h3 ^ (h1 >> 18)) * 597399067
	h2 = (h4 ^ (h2 >> 22)) * 2869860233
	h3 = (h1 ^ (h3 >> 17)) * 951274213
	h4 = (h2 ^ (h4 >> 19)) * 2716044179

	h1 ^= h2 ^ h3 ^ h4
	h2 ^= h1
	h3 ^= h1
	h4 ^= h1
	return [4]uint32{h1, h2, h3, h4}
}

// Uint32 advances the generator and returns the next raw 32-bit output.
func (g *Generator) Uint32() uint32 {
	g.calls++
	s := &g.s
	result := bits.RotateLeft32(s[1]*5, 7) * 9
	t := s[1] << 9

	s[2] ^= s[0]
	s[3] ^= s[1]
	s[1] ^= s[2]
	s[0] ^= s[3]
	s[2] ^= t
	s[3] = bits.RotateLeft32(s[3], 11)

	return result
}

// Float returns a value in [0, 1).
func (g *Generator) Float() float64 {
	return float64(g.Uint32()) / 4294967296.0
}

// Range returns an integer in [min, max], both inclusive. If max < min the
// bounds are swapped.
func (g *Generator) Range(min, max int) int {
	if max < min {
		min, max = max, min
	}
	return min + int(g.Float()*float64(max-min+1))
}

// FloatRange returns a value in [min, max).
func (g *Generator) FloatRange(min, max float64) float64 {
	return min + g.Float()*(max-min)
}

// Bool returns true with probability p.
func (g *Generator) Bool(p float64) bool {
	return g.Float() < p
}

// Clone returns an independent generator at the same stream position.
func (g *Generator) Clone() *Generator {
	c := *g
	return &c
}

// Calls returns how many raw outputs have been drawn. It is diagnostic only
// and does not feed back into the state transition.
func (g *Generator) Calls() uint64 {
	return g.calls
}

// State returns the four internal state words.
func (g *Generator) State() [4]uint32 {
	return g.s
}

// Pick returns a uniformly chosen element of seq. It reports false and draws
// nothing when seq is empty.
func Pick[T any](g *Generator, seq []T) (T, bool) {
	var zero T
	if len(seq) == 0 {
		return zero, false
	}
	return seq[g.Range(0, len(seq)-1)], true
}

// Shuffle permutes seq in place with Fisher-Yates.
func Shuffle[T any](g *Generator, seq []T) {
	for i := len(seq) - 1; i > 0; i-- {
		j := g.Range(0, i)
		seq[i], seq[j] = seq[j], seq[i]
	}
}
