package reward

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"sync"
)

// Source yields uniformly distributed floats in [0,1).
type Source interface {
	Draw() float64
}

// SeededSource is a PCG generator. Safe for concurrent use.
type SeededSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeededSource creates a reproducible source from two seed words.
func NewSeededSource(seed1, seed2 uint64) *SeededSource {
	return &SeededSource{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

// NewCryptoSeededSource seeds a PCG generator from crypto/rand.
func NewCryptoSeededSource() (*SeededSource, error) {
	var b [16]byte
	if _, err := crand.Read(b[:]); err != nil {
		return nil, fmt.Errorf("read random seed: %w", err)
	}
	return NewSeededSource(binary.LittleEndian.Uint64(b[:8]), binary.LittleEndian.Uint64(b[8:])), nil
}

// Draw implements Source.
func (s *SeededSource) Draw() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// SequenceSource replays a fixed list of draws, cycling when exhausted.
// An empty sequence always draws 0.99 (the standard tier in every table).
type SequenceSource struct {
	mu    sync.Mutex
	draws []float64
	next  int
}

// NewSequenceSource creates a replaying source.
func NewSequenceSource(draws ...float64) *SequenceSource {
	return &SequenceSource{draws: draws}
}

// Draw implements Source.
func (s *SequenceSource) Draw() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.draws) == 0 {
		return 0.99
	}
	d := s.draws[s.next%len(s.draws)]
	s.next++
	return d
}

// Calls returns how many draws were made.
func (s *SequenceSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
