/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package executor

import (
	"sort"
	"time"
)

// ChannelState is the last level the controller wrote to a channel.
type ChannelState struct {
	Channel   int       `json:"channel"`
	Active    bool      `json:"active"`
	ChangedAt time.Time `json:"changed_at"`
	Source    string    `json:"source,omitempty"`
}

// Snapshot is a consistent copy of every channel state.
type Snapshot struct {
	Channels []ChannelState `json:"channels"`
	Active   *int           `json:"active"`
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{Channels: make([]ChannelState, 0, len(c.states))}
	for _, st := range c.states {
		snap.Channels = append(snap.Channels, *st)
	}
	sort.Slice(snap.Channels, func(i, j int) bool {
		return snap.Channels[i].Channel < snap.Channels[j].Channel
	})
	for _, st := range snap.Channels {
		if st.Active {
			ch := st.Channel
			snap.Active = &ch
			break
		}
	}
	return snap
}
