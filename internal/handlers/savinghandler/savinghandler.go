// Package savinghandler contains a handler that saves measurements
package savinghandler

import (
	"sync"

	"github.com/kvmshare/securesocket/model"
)

// Handler is a handler that saves measurements
type Handler struct {
	all []model.Measurement
	mu  sync.Mutex
}

// OnMeasurement saves the emitted measurement
func (h *Handler) OnMeasurement(m model.Measurement) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all = append(h.all, m)
}

// All returns a copy of the saved measurements.
func (h *Handler) All() []model.Measurement {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.Measurement(nil), h.all...)
}

// Has returns whether at least one saved measurement satisfies pred.
func (h *Handler) Has(pred func(model.Measurement) bool) bool {
	for _, m := range h.All() {
		if pred(m) {
			return true
		}
	}
	return false
}
