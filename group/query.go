package group

import (
	"strconv"
	"strings"

	"github.com/john/printer_monitor/printer"
)

const (
	noPrintInProgress = "No print in progress"
	stateUnused       = "Unused"
)

// Query answers a display key. Recognized keys are "next" and
// "<n>.name", "<n>.pct", "<n>.state", "<n>.status", "<n>.next" and
// "<n>.remaining" with n the 1-based printer number. Keys are case
// insensitive. Anything else, or a value that does not apply to the
// printer's current state, yields "".
func (g *Group) Query(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "next" {
		i, eta, _, ok := g.NextCompletion()
		if !ok {
			return noPrintInProgress
		}
		return g.slots[i].config.DisplayName() + ": " + eta
	}

	num, sub, found := strings.Cut(key, ".")
	if !found {
		return ""
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 1 || n > len(g.slots) {
		return ""
	}
	return g.queryPrinter(n-1, sub)
}

func (g *Group) queryPrinter(i int, sub string) string {
	s := &g.slots[i]
	if sub == "name" {
		return s.config.DisplayName()
	}

	p := s.client
	if p == nil {
		switch sub {
		case "state", "status":
			return stateUnused
		}
		return ""
	}

	switch sub {
	case "pct":
		if p.State() >= printer.Complete {
			return strconv.Itoa(int(p.PctComplete()))
		}
	case "state":
		return p.State().String()
	case "status":
		if p.State() == printer.Printing {
			return p.State().String() + "|" + strconv.Itoa(int(p.PctComplete()))
		}
		return p.State().String()
	case "next":
		if p.IsPrinting() {
			return g.completionTime(p.PrintTimeLeft())
		}
	case "remaining":
		if p.State() == printer.Printing {
			return formatInterval(p.PrintTimeLeft())
		}
	}
	return ""
}
