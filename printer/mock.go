package printer

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Mock print cycle: idle, then a job, then a finished job waiting to be
// acknowledged. Repeats forever.
const (
	mockIdle     = 2 * time.Minute
	mockJob      = 15 * time.Minute
	mockComplete = 3 * time.Minute
	mockCycle    = mockIdle + mockJob + mockComplete

	mockFilename = "mock_benchy.gcode"
)

// MockClient simulates a printer without any network access. The
// simulated job is derived from the clock on every UpdateState.
type MockClient struct {
	base

	now    Clock
	start  time.Time
	logger hclog.Logger

	cycle             int64
	acknowledgedCycle int64
}

// NewMockClient creates a mock whose first cycle starts now.
func NewMockClient(clock Clock, logger hclog.Logger) *MockClient {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &MockClient{
		now:               clock,
		start:             clock(),
		logger:            logger,
		acknowledgedCycle: -1,
	}
}

func (c *MockClient) UpdateState(ctx context.Context) UpdateResult {
	since := c.now().Sub(c.start)
	if since < 0 {
		since = 0
	}
	cycle := int64(since / mockCycle)
	offset := since % mockCycle

	st := Status{
		Filename:          mockFilename,
		PrintTimeEstimate: uint32(mockJob / time.Second),
		Tool:              Temps{Actual: 24, Target: 0},
		Bed:               Temps{Actual: 23, Target: 0},
	}
	switch {
	case offset < mockIdle:
		st.State = Operational
		st.Filename = ""
		st.PrintTimeEstimate = 0
	case offset < mockIdle+mockJob:
		st.State = Printing
		st.Elapsed = (offset - mockIdle).Seconds()
		st.PercentComplete = clampPercent(100 * st.Elapsed / float64(st.PrintTimeEstimate))
		st.Tool = Temps{Actual: 209.6, Target: 210}
		st.Bed = Temps{Actual: 59.8, Target: 60}
	default:
		st.Elapsed = mockJob.Seconds()
		st.PercentComplete = 100
		st.State = Complete
		if c.acknowledgedCycle == cycle {
			st.State = Operational
		}
	}

	c.status = st
	c.cycle = cycle
	return Fresh
}

func (c *MockClient) AcknowledgeCompletion() {
	if c.status.State != Complete {
		return
	}
	c.acknowledgedCycle = c.cycle
	c.status.State = Operational
}

func (c *MockClient) DumpToLog() {
	c.logger.Debug("mock status",
		"state", c.status.State,
		"file", c.status.Filename,
		"pct", c.status.PercentComplete,
		"elapsed_s", c.status.ElapsedSeconds(),
		"estimate_s", c.status.PrintTimeEstimate,
	)
}
