package printer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"time"

	"github.com/hashicorp/go-hclog"
)

// rr_connect error codes.
const (
	duetErrPassword   = 1
	duetErrNoSessions = 2
)

// EstimatePolicy turns a run state into the expected remaining print time
// in seconds.
type EstimatePolicy func(rr RRState) float64

// MaxRemaining takes the largest of the file, filament and layer
// estimates. It is the default.
func MaxRemaining(rr RRState) float64 {
	return math.Max(rr.Remaining[remainingFile],
		math.Max(rr.Remaining[remainingFilament], rr.Remaining[remainingLayer]))
}

// FileRemaining uses only the file-position estimate.
func FileRemaining(rr RRState) float64 {
	return rr.Remaining[remainingFile]
}

// DuetOption configures a DuetClient.
type DuetOption func(*DuetClient)

// WithEstimatePolicy replaces the remaining-time blending function.
func WithEstimatePolicy(p EstimatePolicy) DuetOption {
	return func(c *DuetClient) { c.estimate = p }
}

// WithDuetClock sets the clock used for the rr_connect timestamp.
func WithDuetClock(clock Clock) DuetOption {
	return func(c *DuetClient) { c.now = clock }
}

// DuetClient talks to RepRapFirmware's rr_* HTTP API. It combines the
// run state (fetched every poll) with the file info (fetched once per job)
// to derive elapsed time, total estimate and percent complete.
type DuetClient struct {
	base

	service  *JSONService
	password string
	logger   hclog.Logger
	estimate EstimatePolicy
	now      Clock

	fileInfo FileInfo
	rrState  RRState
}

// NewDuetClient creates a client for the Duet at host:port. Only the
// password from creds is used. No I/O is performed.
func NewDuetClient(host string, port int, creds Credentials, logger hclog.Logger, opts ...DuetOption) *DuetClient {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	c := &DuetClient{
		service:  NewJSONService(host, port, Credentials{}),
		password: creds.Password,
		logger:   logger,
		estimate: MaxRemaining,
		now:      time.Now,
		fileInfo: newFileInfo(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FileInfo returns the cached file metadata.
func (c *DuetClient) FileInfo() FileInfo { return c.fileInfo }

// RRState returns the cached run state.
func (c *DuetClient) RRState() RRState { return c.rrState }

// UpdateState connects, fetches the run state and, when a new job is
// detected, the file info, then re-derives the status. On failure the
// state goes Offline and every other field keeps its previous value.
func (c *DuetClient) UpdateState(ctx context.Context) UpdateResult {
	if err := c.connect(ctx); err != nil {
		return c.fail("connect", err)
	}
	defer c.disconnect(ctx)

	var raw rrStatusResponse
	if err := c.service.Fetch(ctx, "/rr_status", url.Values{"type": {"3"}}, &raw); err != nil {
		return c.fail("rr_status", err)
	}
	rr, err := raw.toRRState()
	if err != nil {
		return c.fail("rr_status", err)
	}

	state := stateFromStatusCode(rr.Status)
	fi := c.fileInfo
	if state == Printing && c.needFileInfo(rr) {
		fi, err = c.fetchFileInfo(ctx)
		if err != nil {
			return c.fail("rr_fileinfo", err)
		}
	}

	c.rrState = rr
	c.fileInfo = fi
	c.status = derive(rr, fi, c.estimate)
	return Fresh
}

// needFileInfo reports whether rr belongs to a job whose file info has not
// been fetched yet. An answer without a loaded file counts as fetched.
func (c *DuetClient) needFileInfo(rr RRState) bool {
	if !c.fileInfo.Fetched() {
		return true
	}
	if stateFromStatusCode(c.rrState.Status) != Printing {
		return true
	}
	// Duration went backwards: a new job started between polls.
	return rr.PrintDuration < c.rrState.PrintDuration
}

func (c *DuetClient) fetchFileInfo(ctx context.Context) (FileInfo, error) {
	var raw rrFileInfoResponse
	if err := c.service.Fetch(ctx, "/rr_fileinfo", nil, &raw); err != nil {
		return FileInfo{}, err
	}
	fi, err := raw.toFileInfo()
	if err != nil {
		return FileInfo{}, err
	}
	if fi.Name != c.fileInfo.Name {
		c.logger.Debug("new file loaded", "name", fi.Name, "print_time_s", fi.PrintTime)
	}
	return fi, nil
}

func (c *DuetClient) connect(ctx context.Context) error {
	params := url.Values{
		"password": {c.password},
		"time":     {c.now().Format("2006-1-2T15:04:05")},
	}
	var resp struct {
		Err *int `json:"err"`
	}
	if err := c.service.Fetch(ctx, "/rr_connect", params, &resp); err != nil {
		return err
	}
	if resp.Err == nil {
		return errors.New("rr_connect: response has no err field")
	}
	switch *resp.Err {
	case 0:
		return nil
	case duetErrPassword:
		return errors.New("rr_connect: invalid password")
	case duetErrNoSessions:
		return errors.New("rr_connect: no more sessions available")
	}
	return fmt.Errorf("rr_connect: error %d", *resp.Err)
}

func (c *DuetClient) disconnect(ctx context.Context) {
	if err := c.service.Fetch(ctx, "/rr_disconnect", nil, nil); err != nil {
		c.logger.Trace("disconnect failed", "error", err)
	}
}

// fail marks the printer Offline, keeping the rest of the status.
func (c *DuetClient) fail(step string, err error) UpdateResult {
	c.status.State = Offline
	var netErr net.Error
	if errors.As(err, &netErr) {
		c.logger.Warn("printer unreachable", "url", c.service.BaseURL(), "step", step, "error", err)
		return Unreachable
	}
	c.logger.Warn("bad response from printer", "url", c.service.BaseURL(), "step", step, "error", err)
	return Stale
}

// AcknowledgeCompletion is a no-op: a Duet has no completed state to clear.
func (c *DuetClient) AcknowledgeCompletion() {
	c.logger.Trace("acknowledge completion: nothing to clear")
}

func (c *DuetClient) DumpToLog() {
	c.logger.Debug("duet status",
		"state", c.status.State,
		"file", c.status.Filename,
		"pct", c.status.PercentComplete,
		"elapsed_s", c.status.ElapsedSeconds(),
		"estimate_s", c.status.PrintTimeEstimate,
		"tool", c.status.Tool,
		"bed", c.status.Bed,
	)
	c.fileInfo.DumpToLog(c.logger)
	c.rrState.DumpToLog(c.logger)
}

// derive computes the normalized status from a run state and file info.
// The returned estimate is never less than the elapsed time.
func derive(rr RRState, fi FileInfo, policy EstimatePolicy) Status {
	st := Status{
		State:   stateFromStatusCode(rr.Status),
		Elapsed: math.Max(rr.PrintDuration, 0),
		Tool:    rr.Tool,
		Bed:     rr.Bed,
	}
	if fi.Valid() {
		st.Filename = fi.Name
	}

	remaining := policy(rr)
	if math.IsNaN(remaining) || remaining < 0 {
		remaining = 0
	}
	estimate := toUint32(math.Ceil(st.Elapsed + remaining))
	if floor := toUint32(math.Ceil(st.Elapsed)); estimate < floor {
		estimate = floor
	}
	if fi.Valid() && fi.PrintTime > estimate {
		estimate = fi.PrintTime
	}
	st.PrintTimeEstimate = estimate

	if estimate > 0 {
		st.PercentComplete = clampPercent(100 * st.Elapsed / float64(estimate))
	}
	return st
}
