package session

import "sync"

// handleSet binds a controller to its native resources. At most one
// handleSet is live per controller; every Free* path funnels through close,
// which releases resources in reverse acquisition order and is idempotent
// under concurrent release attempts (Close, destructor path and
// initialization-failure rollback).
type handleSet struct {
	mu      sync.Mutex
	eng     Engine
	backend bool
	model   ModelRef
	context ContextRef
	proj    ProjectorRef
	sampler SamplerRef
}

func newHandleSet(eng Engine) *handleSet {
	return &handleSet{eng: eng}
}

func (h *handleSet) acquireBackend() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.backend {
		h.eng.InitBackend()
		h.backend = true
	}
}

func (h *handleSet) setModel(m ModelRef)     { h.mu.Lock(); h.model = m; h.mu.Unlock() }
func (h *handleSet) setContext(c ContextRef) { h.mu.Lock(); h.context = c; h.mu.Unlock() }
func (h *handleSet) setProjector(p ProjectorRef) {
	h.mu.Lock()
	h.proj = p
	h.mu.Unlock()
}

// swapSampler installs a freshly configured sampler chain, freeing the
// previous one if present.
func (h *handleSet) swapSampler(s SamplerRef) {
	h.mu.Lock()
	old := h.sampler
	h.sampler = s
	h.mu.Unlock()
	if old != nil {
		h.eng.FreeSampler(old)
	}
}

// close tears everything down in reverse acquisition order. Safe to call
// any number of times, from any path.
func (h *handleSet) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sampler != nil {
		h.eng.FreeSampler(h.sampler)
		h.sampler = nil
	}
	if h.proj != nil {
		h.eng.FreeProjector(h.proj)
		h.proj = nil
	}
	if h.context != nil {
		h.eng.FreeContext(h.context)
		h.context = nil
	}
	if h.model != nil {
		h.eng.FreeModel(h.model)
		h.model = nil
	}
	if h.backend {
		h.eng.FreeBackend()
		h.backend = false
	}
}
