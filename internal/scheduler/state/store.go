/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package state holds the compiled trigger snapshot shared by the scheduler
// loop and its readers.
package state

import (
	"sync/atomic"
	"time"

	"github.com/friendsincode/wateringd/internal/clock"
)

// Snapshot is an immutable compiled trigger set indexed by slot.
type Snapshot struct {
	Triggers   []clock.Trigger
	CompiledAt time.Time

	bySlot map[string][]clock.Trigger
}

// NewSnapshot indexes triggers. The caller must not modify triggers afterwards.
func NewSnapshot(triggers []clock.Trigger, compiledAt time.Time) *Snapshot {
	bySlot := make(map[string][]clock.Trigger)
	for _, t := range triggers {
		bySlot[t.Slot()] = append(bySlot[t.Slot()], t)
	}
	return &Snapshot{Triggers: triggers, CompiledAt: compiledAt, bySlot: bySlot}
}

// Due returns the triggers for a "Mon 06:00" slot in dispatch order.
func (s *Snapshot) Due(slot string) []clock.Trigger {
	if s == nil {
		return nil
	}
	return s.bySlot[slot]
}

// Len returns the number of triggers.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Triggers)
}

// Store publishes snapshots. Readers always see a complete snapshot.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore creates a store holding an empty snapshot.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(NewSnapshot(nil, time.Time{}))
	return s
}

// Load returns the current snapshot.
func (s *Store) Load() *Snapshot {
	return s.current.Load()
}

// Swap installs next and returns the previous snapshot.
func (s *Store) Swap(next *Snapshot) *Snapshot {
	return s.current.Swap(next)
}
