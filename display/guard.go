// Package display exposes a printer group to display clients over HTTP
// and WebSocket.
package display

import (
	"context"
	"sync"

	"github.com/john/printer_monitor/group"
)

// Guard serializes access to a Group shared between the poller and the
// HTTP handlers. The Group itself is single-threaded.
type Guard struct {
	mu sync.Mutex
	g  *group.Group
}

// NewGuard wraps g. g must not be used directly afterwards.
func NewGuard(g *group.Group) *Guard {
	return &Guard{g: g}
}

// Refresh runs one refresh pass while holding the lock.
func (gd *Guard) Refresh(ctx context.Context, force bool) []group.Update {
	gd.mu.Lock()
	defer gd.mu.Unlock()
	return gd.g.Refresh(ctx, force)
}

func (gd *Guard) SetBusyNotifier(b group.BusyNotifier) {
	gd.mu.Lock()
	defer gd.mu.Unlock()
	gd.g.SetBusyNotifier(b)
}

func (gd *Guard) Query(key string) string {
	gd.mu.Lock()
	defer gd.mu.Unlock()
	return gd.g.Query(key)
}

func (gd *Guard) Snapshot() []group.PrinterView {
	gd.mu.Lock()
	defer gd.mu.Unlock()
	return gd.g.Snapshot()
}

func (gd *Guard) View(i int) (group.PrinterView, bool) {
	gd.mu.Lock()
	defer gd.mu.Unlock()
	return gd.g.View(i)
}

// Next is the result of a next-completion lookup.
type Next struct {
	Printing  bool   `json:"printing"`
	Index     int    `json:"index,omitempty"` // 1-based
	Name      string `json:"name,omitempty"`
	ETA       string `json:"eta,omitempty"`
	Remaining uint32 `json:"remaining,omitempty"`
}

func (gd *Guard) NextCompletion() Next {
	gd.mu.Lock()
	defer gd.mu.Unlock()

	i, eta, remaining, ok := gd.g.NextCompletion()
	if !ok {
		return Next{}
	}
	return Next{
		Printing:  true,
		Index:     i + 1,
		Name:      gd.g.DisplayName(i),
		ETA:       eta,
		Remaining: remaining,
	}
}

func (gd *Guard) AcknowledgeCompletion(i int) bool {
	gd.mu.Lock()
	defer gd.mu.Unlock()
	return gd.g.AcknowledgeCompletion(i)
}

func (gd *Guard) Len() int {
	gd.mu.Lock()
	defer gd.mu.Unlock()
	return gd.g.Len()
}
