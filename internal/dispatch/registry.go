package dispatch

import "sync"

// handle is the ephemeral per-campaign loop state: advisory pause/stop
// flags the loop consults between recipient iterations. Never persisted;
// a process restart loses every handle by design and the recovery
// service reconciles the difference.
type handle struct {
	mu      sync.Mutex
	paused  bool
	stopped bool
}

func (h *handle) signalPause() {
	h.mu.Lock()
	h.paused = true
	h.mu.Unlock()
}

func (h *handle) signalStop() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
}

func (h *handle) flags() (paused, stopped bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused, h.stopped
}

// Registry maps campaign ids to live loop handles. One instance is
// owned by the Manager and injected where needed; there is no ambient
// global lookup.
type Registry struct {
	mu    sync.Mutex
	loops map[int]*handle
}

func NewRegistry() *Registry {
	return &Registry{loops: make(map[int]*handle)}
}

// acquire registers a handle for the campaign. The second return is
// false when a loop is already registered, which makes start idempotent:
// at most one loop per campaign can ever hold a handle.
func (r *Registry) acquire(campaignID int) (*handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.loops[campaignID]; exists {
		return nil, false
	}
	h := &handle{}
	r.loops[campaignID] = h
	return h, true
}

func (r *Registry) release(campaignID int) {
	r.mu.Lock()
	delete(r.loops, campaignID)
	r.mu.Unlock()
}

func (r *Registry) get(campaignID int) (*handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.loops[campaignID]
	return h, ok
}

func (r *Registry) IsRunning(campaignID int) bool {
	_, ok := r.get(campaignID)
	return ok
}
