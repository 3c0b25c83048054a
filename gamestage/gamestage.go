// Package gamestage provides an atomic lifecycle stage holder. Matches,
// tournaments, and the top-level runtime each own one and advance it with
// CompareAndSwap so exactly one goroutine wins any given transition.
package gamestage

import "sync/atomic"

type Stage string

type Atomic interface {
	CompareAndSwap(oldStage, newStage Stage) (swapped bool)
	Load() Stage
	Store(val Stage)
	Swap(newStage Stage) (oldStage Stage)
}

type atomicStage struct {
	value *atomic.Value
}

// NewAtomic returns an Atomic initialized to the given stage.
func NewAtomic(initial Stage) Atomic {
	a := &atomicStage{
		value: &atomic.Value{},
	}
	a.Store(initial)
	return a
}

func (a *atomicStage) CompareAndSwap(oldStage, newStage Stage) (swapped bool) {
	return a.value.CompareAndSwap(oldStage, newStage)
}

func (a *atomicStage) Load() Stage {
	return a.value.Load().(Stage)
}

func (a *atomicStage) Store(val Stage) {
	a.value.Store(val)
}

func (a *atomicStage) Swap(newStage Stage) (oldStage Stage) {
	return a.value.Swap(newStage).(Stage)
}
