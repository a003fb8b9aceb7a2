// Package session correlates Join Request context with subsequent data
// uplinks by DevAddr, producing an opaque session id and backfilling DevEUI
// once it becomes known.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lorawatch/lorawan-analyzer/internal/model"
)

// Tracker holds the in-memory pending-join and bound-session state. Nothing
// downstream fails if it produces no session id.
type Tracker struct {
	mu sync.Mutex

	// pending is keyed by DevEUI: a Join Request whose DevAddr is not yet
	// known.
	pending map[string]pendingJoin

	// bound is keyed by DevAddr, once a data uplink has been opportunistically
	// matched to a pending join.
	bound map[string]model.SessionContext
}

type pendingJoin struct {
	devEUI    string
	joinEUI   string
	operator  string
	sessionID string
	createdAt time.Time
}

// NewTracker constructs an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		pending: make(map[string]pendingJoin),
		bound:   make(map[string]model.SessionContext),
	}
}

// OnJoinRequest records a pending join for devEUI, keyed by operator (the
// JoinEUI-resolved operator/manufacturer name) so a later data uplink can be
// matched against joins from the same operator. Returns the freshly
// generated session id.
func (t *Tracker) OnJoinRequest(devEUI, joinEUI, operator string, now time.Time) string {
	sessionID := uuid.NewString()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending[devEUI] = pendingJoin{
		devEUI:    devEUI,
		joinEUI:   joinEUI,
		operator:  operator,
		sessionID: sessionID,
		createdAt: now,
	}
	return sessionID
}

// Binding is the enrichment the tracker contributes to a data-uplink packet.
type Binding struct {
	SessionID string
	DevEUI    string
}

// OnDataUplink resolves a DevAddr to a session binding. If the DevAddr is
// already bound, its session is refreshed and returned. Otherwise the
// tracker searches pending joins sharing the given operator for the most
// recently created one; a unique most-recent candidate is promoted to a
// binding, while a tie between two or more equally-recent candidates leaves
// the uplink unbound.
func (t *Tracker) OnDataUplink(devAddr, operator string, now time.Time) (Binding, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.bound[devAddr]; ok {
		existing.LastSeen = now
		t.bound[devAddr] = existing
		return Binding{SessionID: existing.SessionID, DevEUI: existing.DevEUI}, true
	}

	var best *pendingJoin
	ambiguous := false
	for devEUI := range t.pending {
		candidate := t.pending[devEUI]
		if candidate.operator != operator {
			continue
		}
		switch {
		case best == nil:
			c := candidate
			best = &c
		case candidate.createdAt.After(best.createdAt):
			c := candidate
			best = &c
			ambiguous = false
		case candidate.createdAt.Equal(best.createdAt):
			ambiguous = true
		}
	}

	if best == nil || ambiguous {
		return Binding{}, false
	}

	delete(t.pending, best.devEUI)
	t.bound[devAddr] = model.SessionContext{
		DevEUI:    best.devEUI,
		JoinEUI:   best.joinEUI,
		SessionID: best.sessionID,
		CreatedAt: best.createdAt,
		LastSeen:  now,
	}
	return Binding{SessionID: best.sessionID, DevEUI: best.devEUI}, true
}

// Sweep evicts bound and pending entries whose last-seen/created-at
// timestamp is older than maxAge, measured from now.
func (t *Tracker) Sweep(now time.Time, maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	cutoff := now.Add(-maxAge)

	for devAddr, sc := range t.bound {
		if sc.LastSeen.Before(cutoff) {
			delete(t.bound, devAddr)
			evicted++
		}
	}
	for devEUI, pj := range t.pending {
		if pj.createdAt.Before(cutoff) {
			delete(t.pending, devEUI)
			evicted++
		}
	}
	return evicted
}

// RunSweeper starts a goroutine that calls Sweep every interval with maxAge
// and returns immediately; the goroutine exits once stop is closed.
func (t *Tracker) RunSweeper(interval, maxAge time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				t.Sweep(now, maxAge)
			}
		}
	}()
}
