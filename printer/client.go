package printer

import (
	"context"
	"time"
)

// UpdateResult reports the outcome of one UpdateState call.
type UpdateResult int

const (
	// Fresh means every fetch succeeded and the status was re-derived.
	Fresh UpdateResult = iota
	// Stale means the printer answered but part of the exchange failed;
	// cached fields were kept.
	Stale
	// Unreachable means the printer could not be contacted at all.
	Unreachable
)

func (r UpdateResult) String() string {
	switch r {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Unreachable:
		return "unreachable"
	}
	return "unknown"
}

// Client is a protocol-specific handle on one printer. Implementations own
// their Status and only change it from UpdateState. Accessors never do I/O.
type Client interface {
	// UpdateState performs the protocol exchange needed to refresh the
	// status. It never panics and never surfaces an error; failures are
	// logged and reported through the result.
	UpdateState(ctx context.Context) UpdateResult

	State() State
	PctComplete() float64
	PrintTimeLeft() uint32
	ElapsedTime() uint32
	Filename() string
	BedTemps() Temps
	ToolTemps() Temps
	IsPrinting() bool

	// AcknowledgeCompletion clears a Complete condition so a finished
	// print is not reported as newly complete again.
	AcknowledgeCompletion()

	DumpToLog()
}

// Credentials carries the static authentication passed to the transport.
type Credentials struct {
	APIKey   string
	User     string
	Password string
}

// Clock supplies the current time.
type Clock func() time.Time

// base implements the accessor half of Client over a Status.
type base struct {
	status Status
}

func (b *base) State() State          { return b.status.State }
func (b *base) PctComplete() float64  { return b.status.PercentComplete }
func (b *base) PrintTimeLeft() uint32 { return b.status.TimeLeft() }
func (b *base) ElapsedTime() uint32   { return b.status.ElapsedSeconds() }
func (b *base) Filename() string      { return b.status.Filename }
func (b *base) BedTemps() Temps       { return b.status.Bed }
func (b *base) ToolTemps() Temps      { return b.status.Tool }
func (b *base) IsPrinting() bool      { return b.status.State == Printing }

// Status returns a copy of the current status.
func (b *base) Status() Status { return b.status }
