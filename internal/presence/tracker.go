// Package presence tracks which participants are currently active in each
// live session room, so that departures can be announced to stream viewers.
//
// Location reports themselves are persisted by package location; the
// tracker only keeps the last-seen time of each participant in memory and
// is rebuilt from new reports after a restart. A background reaper marks
// participants gone once they stop reporting.
package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Entry is one participant's presence in a room.
type Entry struct {
	Room       string    `json:"room"`
	Actor      string    `json:"actor"`
	FirstSeen  time.Time `json:"firstSeen"`
	LastSeen   time.Time `json:"lastSeen"`
	IdleSecs   float64   `json:"idleSecs"`
	EventCount int64     `json:"eventCount"`
}

// ReaperConfig configures the background reaper.
type ReaperConfig struct {
	// GoneAfter is how long a participant may stay silent before being
	// announced as gone. Default: 2 minutes.
	GoneAfter time.Duration

	// SweepInterval is how often the reaper scans. Default: 15 seconds.
	SweepInterval time.Duration

	// OnGone is called for each participant newly reaped, outside the lock.
	OnGone func(room, actor string)
}

type member struct {
	room, actor string
}

type memberState struct {
	firstSeen  time.Time
	lastSeen   time.Time
	eventCount int64
}

// Tracker maintains the in-memory presence map.
type Tracker struct {
	mu      sync.RWMutex
	members map[member]*memberState
	now     func() time.Time

	reaperStop chan struct{}
	reaperDone chan struct{}
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		members: make(map[member]*memberState),
		now:     time.Now,
	}
}

// Seen records activity by actor in room.
func (t *Tracker) Seen(room, actor string) {
	if room == "" || actor == "" {
		return
	}
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	key := member{room, actor}
	st, ok := t.members[key]
	if !ok {
		st = &memberState{firstSeen: now}
		t.members[key] = st
	}
	st.lastSeen = now
	st.eventCount++
}

// Roster returns the participants of room, most recently active first.
// Participants idle longer than stale are left out; pass 0 to include all.
func (t *Tracker) Roster(room string, stale time.Duration) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	entries := make([]Entry, 0)
	for key, st := range t.members {
		if key.room != room {
			continue
		}
		idle := now.Sub(st.lastSeen)
		if stale > 0 && idle > stale {
			continue
		}
		entries = append(entries, Entry{
			Room:       key.room,
			Actor:      key.actor,
			FirstSeen:  st.firstSeen,
			LastSeen:   st.lastSeen,
			IdleSecs:   idle.Seconds(),
			EventCount: st.eventCount,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastSeen.After(entries[j].LastSeen)
	})
	return entries
}

// StartReaper launches the background reaper. Call Stop to shut it down.
func (t *Tracker) StartReaper(cfg *ReaperConfig) {
	if cfg == nil {
		cfg = &ReaperConfig{}
	}
	if cfg.GoneAfter == 0 {
		cfg.GoneAfter = 2 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 15 * time.Second
	}

	t.reaperStop = make(chan struct{})
	t.reaperDone = make(chan struct{})

	go t.reapLoop(cfg)
	slog.Info("presence: reaper started",
		"gone_after", cfg.GoneAfter,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the reaper goroutine.
func (t *Tracker) Stop() {
	if t.reaperStop != nil {
		close(t.reaperStop)
		<-t.reaperDone
		t.reaperStop = nil
		t.reaperDone = nil
	}
}

func (t *Tracker) reapLoop(cfg *ReaperConfig) {
	defer close(t.reaperDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.reaperStop:
			return
		case <-ticker.C:
			t.sweep(cfg)
		}
	}
}

// sweep removes every participant idle longer than cfg.GoneAfter.
func (t *Tracker) sweep(cfg *ReaperConfig) {
	now := t.now()
	var gone []member

	t.mu.Lock()
	for key, st := range t.members {
		if now.Sub(st.lastSeen) > cfg.GoneAfter {
			delete(t.members, key)
			gone = append(gone, key)
		}
	}
	t.mu.Unlock()

	for _, m := range gone {
		slog.Info("presence: participant gone",
			"room", m.room,
			"actor", m.actor,
			"threshold", cfg.GoneAfter)
		if cfg.OnGone != nil {
			cfg.OnGone(m.room, m.actor)
		}
	}
}
