// Package slot implements the single-active-worker cell shared between a
// dispatcher (the owner) and the components that address whichever worker
// is currently running.
//
// A Slot holds at most one value. The owner publishes its worker before the
// run and removes it afterwards. Other components borrow the occupant with
// Acquire/TryAcquire and must hand it back with Release; while borrowed the
// cell is empty, so the owner's Remove waits for the borrower. Occupancy is
// tracked apart from the cell: a borrowed worker is still the active one.
package slot

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// PeekWait bounds how long Peek waits for an occupant that is borrowed.
const PeekWait = 250 * time.Millisecond

var (
	// ErrOccupied is returned when publishing into a full slot.
	ErrOccupied = errors.New("slot already occupied")
)

// Slot is a capacity-1 rendezvous cell.
type Slot[T any] struct {
	cell     chan T
	occupied atomic.Bool
}

// New creates an empty slot.
func New[T any]() *Slot[T] {
	return &Slot[T]{cell: make(chan T, 1)}
}

// Publish places v into the slot. It never blocks.
func (s *Slot[T]) Publish(v T) error {
	select {
	case s.cell <- v:
		s.occupied.Store(true)
		return nil
	default:
		return ErrOccupied
	}
}

// Remove takes the occupant out for good. It waits while a borrower holds
// it, so it must only be called by the owner that published.
func (s *Slot[T]) Remove(ctx context.Context) (T, error) {
	select {
	case v := <-s.cell:
		s.occupied.Store(false)
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Acquire borrows the occupant, waiting at most timeout. ok is false when
// no worker appeared in time, which callers treat as "no active worker".
func (s *Slot[T]) Acquire(ctx context.Context, timeout time.Duration) (v T, ok bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v = <-s.cell:
		return v, true
	case <-timer.C:
	case <-ctx.Done():
	}
	return v, false
}

// TryAcquire borrows the occupant without waiting.
func (s *Slot[T]) TryAcquire() (v T, ok bool) {
	select {
	case v = <-s.cell:
		return v, true
	default:
		return v, false
	}
}

// Release returns a borrowed occupant.
func (s *Slot[T]) Release(v T) {
	// The owner cannot publish again before removing its own occupant,
	// and Remove waits for this release, so the cell is always free here.
	s.cell <- v
}

// Peek borrows the occupant, passes it to fn and releases it on every path.
// When another borrower holds the occupant it waits up to PeekWait. seen
// reports whether fn ran; occupied reports whether a worker is active, which
// stays true when the occupant could not be borrowed in time.
func (s *Slot[T]) Peek(fn func(T)) (seen, occupied bool) {
	v, ok := s.TryAcquire()
	if !ok {
		if !s.Occupied() {
			return false, false
		}
		v, ok = s.Acquire(context.Background(), PeekWait)
		if !ok {
			return false, s.Occupied()
		}
	}
	defer s.Release(v)
	fn(v)
	return true, true
}

// Occupied reports whether a published occupant has not yet been removed,
// whether or not it is currently borrowed.
func (s *Slot[T]) Occupied() bool {
	return s.occupied.Load()
}

// Len reports 1 while the slot has an occupant, borrowed or not, otherwise 0.
func (s *Slot[T]) Len() int {
	if s.Occupied() {
		return 1
	}
	return 0
}
