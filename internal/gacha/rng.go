package gacha

import (
	"math/rand"
	"sync"
)

// Source yields uniform draws in [0,1).
type Source interface {
	Float64() float64
}

type mathSource struct{}

func (mathSource) Float64() float64 {
	return rand.Float64()
}

// DefaultSource is backed by the auto-seeded math/rand generator.
func DefaultSource() Source {
	return mathSource{}
}

// XorShift32 is a small seeded generator for reproducible draws.
type XorShift32 struct {
	mu    sync.Mutex
	state uint32
}

func NewXorShift32(seed uint32) *XorShift32 {
	if seed == 0 {
		seed = 0x12345678
	}
	return &XorShift32{state: seed}
}

func (x *XorShift32) Next() uint32 {
	x.mu.Lock()
	defer x.mu.Unlock()
	s := x.state
	s ^= s << 13
	s ^= s >> 17
	s ^= s << 5
	x.state = s
	return s
}

func (x *XorShift32) Float64() float64 {
	return float64(x.Next()) / (1 << 32)
}

// FixedSource replays fixed draws and repeats the last one once exhausted.
type FixedSource struct {
	mu   sync.Mutex
	vals []float64
	next int
}

func NewFixedSource(vals ...float64) *FixedSource {
	if len(vals) == 0 {
		vals = []float64{0}
	}
	return &FixedSource{vals: vals}
}

func (s *FixedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.vals[s.next]
	if s.next < len(s.vals)-1 {
		s.next++
	}
	return v
}
