// Package group schedules status refreshes for a fixed set of printers and
// answers aggregate and keyed queries about them.
package group

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/john/printer_monitor/printer"
	"github.com/john/printer_monitor/settings"
)

// Refresh thresholds by printer state. Offline and idle printers are
// polled at a randomized interval so a group of them does not refresh in
// lockstep.
const (
	offlineMin = 5 * time.Minute
	offlineMax = 10 * time.Minute
	idleMin    = 1 * time.Minute
	idleMax    = 3 * time.Minute

	DefaultRefreshInterval = 30 * time.Second
)

// Resolver looks up a configured host name. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// BusyNotifier is told when a refresh pass starts and ends, so a caller
// with its own loop can hold off expensive work while network I/O may
// block.
type BusyNotifier interface {
	BeginBatch()
	EndBatch()
}

// ClientFactory builds the protocol client for a slot. addr is the
// resolved address of cfg.Server.
type ClientFactory func(cfg settings.PrinterConfig, addr string) (printer.Client, error)

// Options configures a Group. Zero values select the defaults.
type Options struct {
	// RefreshInterval is how often a printing printer is polled.
	RefreshInterval time.Duration
	// Use24Hour selects 24-hour completion times.
	Use24Hour bool

	Clock     func() time.Time
	Rand      *rand.Rand
	Resolver  Resolver
	Busy      BusyNotifier
	NewClient ClientFactory
	Logger    hclog.Logger
}

// Update records one printer refreshed during a pass.
type Update struct {
	Index  int
	Result printer.UpdateResult
}

// slot bundles everything the group knows about one printer.
// client is nil unless the slot has been activated.
type slot struct {
	config      settings.PrinterConfig
	client      printer.Client
	lastRefresh time.Time
	address     string
	// disabled is set when activation failed; it is never retried.
	disabled bool
}

func (s *slot) active() bool {
	return s.client != nil
}

// Group owns a fixed number of printer slots. It is not safe for
// concurrent use.
type Group struct {
	slots []slot

	refreshInterval time.Duration
	use24Hour       bool
	now             func() time.Time
	rng             *rand.Rand
	resolver        Resolver
	busy            BusyNotifier
	newClient       ClientFactory
	logger          hclog.Logger
}

// New creates a group with one slot per config. The slot count never
// changes afterwards. No printer is contacted until ActivatePrinter.
func New(configs []settings.PrinterConfig, opts Options) *Group {
	g := &Group{
		slots:           make([]slot, len(configs)),
		refreshInterval: opts.RefreshInterval,
		use24Hour:       opts.Use24Hour,
		now:             opts.Clock,
		rng:             opts.Rand,
		resolver:        opts.Resolver,
		busy:            opts.Busy,
		newClient:       opts.NewClient,
		logger:          opts.Logger,
	}
	for i, c := range configs {
		g.slots[i].config = c
	}

	if g.refreshInterval <= 0 {
		g.refreshInterval = DefaultRefreshInterval
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.rng == nil {
		g.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if g.resolver == nil {
		g.resolver = net.DefaultResolver
	}
	if g.logger == nil {
		g.logger = hclog.NewNullLogger()
	}
	if g.newClient == nil {
		g.newClient = g.defaultClient
	}
	return g
}

// SetBusyNotifier replaces the notifier told about refresh passes.
func (g *Group) SetBusyNotifier(b BusyNotifier) {
	g.busy = b
}

// Len returns the number of slots.
func (g *Group) Len() int {
	return len(g.slots)
}

// ActivateAll activates every slot whose settings are marked active.
// It returns the number of printers activated.
func (g *Group) ActivateAll(ctx context.Context) int {
	n := 0
	for i := range g.slots {
		if g.ActivatePrinter(ctx, i) {
			n++
		}
	}
	return n
}

// ActivatePrinter resolves slot i's server and creates its client.
// Failures are logged and leave the slot inactive for the life of the
// process. It reports whether the slot was activated by this call.
func (g *Group) ActivatePrinter(ctx context.Context, i int) bool {
	if i < 0 || i >= len(g.slots) {
		g.logger.Warn("no such printer", "index", i)
		return false
	}
	s := &g.slots[i]
	cfg := s.config
	logger := g.logger.With("printer", i+1, "server", cfg.Server)

	switch {
	case !cfg.IsActive:
		return false
	case s.active():
		logger.Warn("trying to activate a printer that is already active")
		return false
	case s.disabled:
		logger.Debug("printer was disabled by an earlier activation failure")
		return false
	}

	addr := cfg.Server
	if !cfg.Mock {
		resolved, err := g.resolve(ctx, cfg.Server)
		if err != nil {
			logger.Warn("unable to resolve server address", "error", err)
			s.disabled = true
			return false
		}
		addr = resolved
	}

	client, err := g.newClient(cfg, addr)
	if err != nil {
		logger.Warn("unable to set up printer", "error", err)
		s.disabled = true
		return false
	}

	s.address = addr
	s.client = client
	logger.Info("printer activated", "type", cfg.Type, "address", addr, "mock", cfg.Mock)
	cfg.LogSettings(logger)
	return true
}

func (g *Group) resolve(ctx context.Context, host string) (string, error) {
	if host == "" {
		return "", fmt.Errorf("no server configured")
	}
	addrs, err := g.resolver.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no addresses for %s", host)
	}
	return addrs[0], nil
}

// defaultClient picks the client implementation from the type tag.
func (g *Group) defaultClient(cfg settings.PrinterConfig, addr string) (printer.Client, error) {
	logger := g.logger.Named(clientLoggerName(cfg)).With("server", cfg.Server)
	creds := printer.Credentials{APIKey: cfg.APIKey, User: cfg.User, Password: cfg.Pass}

	switch {
	case cfg.Mock:
		return printer.NewMockClient(g.now, logger), nil
	case cfg.Type == settings.TypeOcto:
		return printer.NewOctoClient(addr, cfg.Port, creds, logger), nil
	case cfg.Type == settings.TypeDuet:
		return printer.NewDuetClient(addr, cfg.Port, creds, logger, printer.WithDuetClock(g.now)), nil
	}
	return nil, fmt.Errorf("bad printer type %q", cfg.Type)
}

func clientLoggerName(cfg settings.PrinterConfig) string {
	switch {
	case cfg.Mock:
		return "mock"
	case cfg.Type == settings.TypeDuet:
		return "duet"
	}
	return "octoprint"
}

// Refresh polls every active printer that is due, in slot order. A
// printing printer is due after the refresh interval; idle and offline
// printers after a randomized, longer threshold. force polls everything.
func (g *Group) Refresh(ctx context.Context, force bool) []Update {
	if g.busy != nil {
		g.busy.BeginBatch()
		defer g.busy.EndBatch()
	}

	var updates []Update
	for i := range g.slots {
		s := &g.slots[i]
		if !s.active() {
			continue
		}
		if !force && g.now().Sub(s.lastRefresh) < g.threshold(s.client.State()) {
			continue
		}

		result := s.client.UpdateState(ctx)
		s.lastRefresh = g.now()
		s.client.DumpToLog()
		updates = append(updates, Update{Index: i, Result: result})
	}
	return updates
}

// threshold returns how long to wait between refreshes of a printer in
// state st. Random thresholds are drawn again on every call.
func (g *Group) threshold(st printer.State) time.Duration {
	switch st {
	case printer.Offline:
		return g.between(offlineMin, offlineMax)
	case printer.Operational, printer.Complete:
		return g.between(idleMin, idleMax)
	case printer.Printing:
		return g.refreshInterval
	}
	return g.between(offlineMin, offlineMax)
}

// between returns a whole number of seconds in [lo, hi).
func (g *Group) between(lo, hi time.Duration) time.Duration {
	span := int64((hi - lo) / time.Second)
	return lo + time.Duration(g.rng.Int64N(span))*time.Second
}

// Printer returns slot i's client, or nil when the slot is not active.
func (g *Group) Printer(i int) printer.Client {
	if i < 0 || i >= len(g.slots) {
		return nil
	}
	return g.slots[i].client
}

// Config returns slot i's settings.
func (g *Group) Config(i int) (settings.PrinterConfig, bool) {
	if i < 0 || i >= len(g.slots) {
		return settings.PrinterConfig{}, false
	}
	return g.slots[i].config, true
}

// DisplayName returns the nickname, server, or "Inactive" for slot i.
func (g *Group) DisplayName(i int) string {
	if i < 0 || i >= len(g.slots) {
		return ""
	}
	return g.slots[i].config.DisplayName()
}

// AcknowledgeCompletion clears the Complete state of slot i's printer.
func (g *Group) AcknowledgeCompletion(i int) bool {
	p := g.Printer(i)
	if p == nil {
		return false
	}
	p.AcknowledgeCompletion()
	return true
}

// NextCompletion finds the printing printer that will finish first.
// Ties go to the lowest index. ok is false when nothing is printing.
func (g *Group) NextCompletion() (index int, eta string, remaining uint32, ok bool) {
	index = -1
	for i := range g.slots {
		s := &g.slots[i]
		if !s.active() || s.client.State() != printer.Printing {
			continue
		}
		left := s.client.PrintTimeLeft()
		if index < 0 || left < remaining {
			index, remaining = i, left
		}
	}
	if index < 0 {
		return -1, "", 0, false
	}
	return index, g.completionTime(remaining), remaining, true
}

// completionTime formats now+secondsLeft as a day and clock time.
func (g *Group) completionTime(secondsLeft uint32) string {
	return formatETA(g.now().Add(time.Duration(secondsLeft)*time.Second), g.use24Hour)
}

// PrinterView is a read-only summary of one slot for display.
type PrinterView struct {
	Index    int           `json:"index"` // 1-based
	Name     string        `json:"name"`
	Type     string        `json:"type"`
	Active   bool          `json:"active"`
	State    string        `json:"state"`
	Filename string        `json:"filename,omitempty"`
	Percent  float64       `json:"percent"`
	Elapsed  uint32        `json:"elapsed"`
	Left     uint32        `json:"left"`
	ETA      string        `json:"eta,omitempty"`
	Tool     printer.Temps `json:"tool"`
	Bed      printer.Temps `json:"bed"`
	Address  string        `json:"address,omitempty"`
}

// Snapshot summarizes every slot.
func (g *Group) Snapshot() []PrinterView {
	views := make([]PrinterView, len(g.slots))
	for i := range g.slots {
		views[i] = g.view(i)
	}
	return views
}

// View summarizes slot i.
func (g *Group) View(i int) (PrinterView, bool) {
	if i < 0 || i >= len(g.slots) {
		return PrinterView{}, false
	}
	return g.view(i), true
}

func (g *Group) view(i int) PrinterView {
	s := &g.slots[i]
	v := PrinterView{
		Index:   i + 1,
		Name:    s.config.DisplayName(),
		Type:    s.config.Type,
		Active:  s.active(),
		State:   stateUnused,
		Address: s.address,
	}
	if !s.active() {
		return v
	}
	p := s.client
	v.State = p.State().String()
	v.Filename = p.Filename()
	v.Percent = p.PctComplete()
	v.Elapsed = p.ElapsedTime()
	v.Left = p.PrintTimeLeft()
	v.Tool = p.ToolTemps()
	v.Bed = p.BedTemps()
	if p.IsPrinting() {
		v.ETA = g.completionTime(v.Left)
	}
	return v
}
