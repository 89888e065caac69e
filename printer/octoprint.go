package printer

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"

	"github.com/hashicorp/go-hclog"
)

// OctoClient polls an OctoPrint server's /api/job and /api/printer
// endpoints using an API key.
type OctoClient struct {
	base

	service *JSONService
	logger  hclog.Logger

	// acknowledged suppresses Complete for the job that has already
	// been reported.
	acknowledged string
}

// NewOctoClient creates a client for the OctoPrint server at host:port.
// No I/O is performed.
func NewOctoClient(host string, port int, creds Credentials, logger hclog.Logger) *OctoClient {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &OctoClient{
		service: NewJSONService(host, port, creds),
		logger:  logger,
	}
}

type octoJobResponse struct {
	Job struct {
		File struct {
			Name string `json:"name"`
		} `json:"file"`
		EstimatedPrintTime *float64 `json:"estimatedPrintTime"`
	} `json:"job"`
	Progress struct {
		Completion    *float64 `json:"completion"`
		PrintTime     *float64 `json:"printTime"`
		PrintTimeLeft *float64 `json:"printTimeLeft"`
	} `json:"progress"`
	State string `json:"state"`
}

type octoPrinterResponse struct {
	Temperature struct {
		Tool0 Temps `json:"tool0"`
		Bed   Temps `json:"bed"`
	} `json:"temperature"`
	State struct {
		Text  string `json:"text"`
		Flags struct {
			Operational bool `json:"operational"`
			Printing    bool `json:"printing"`
			Paused      bool `json:"paused"`
			Pausing     bool `json:"pausing"`
			Error       bool `json:"error"`
		} `json:"flags"`
	} `json:"state"`
}

// UpdateState fetches job progress, then printer temperatures and flags.
// OctoPrint answers /api/printer with 409 when it is not connected to the
// printer; that is reported as Offline rather than as a failure.
func (c *OctoClient) UpdateState(ctx context.Context) UpdateResult {
	var job octoJobResponse
	if err := c.service.Fetch(ctx, "/api/job", nil, &job); err != nil {
		return c.fail("job", err)
	}

	var prn octoPrinterResponse
	if err := c.service.Fetch(ctx, "/api/printer", nil, &prn); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusConflict {
			c.status.State = Offline
			c.logger.Debug("octoprint is not connected to the printer", "url", c.service.BaseURL())
			return Fresh
		}
		return c.fail("printer", err)
	}

	st := Status{
		Filename: job.Job.File.Name,
		Tool:     prn.Temperature.Tool0,
		Bed:      prn.Temperature.Bed,
	}
	if job.Progress.PrintTime != nil {
		st.Elapsed = math.Max(*job.Progress.PrintTime, 0)
	}
	switch {
	case job.Progress.PrintTimeLeft != nil:
		st.PrintTimeEstimate = toUint32(math.Ceil(st.Elapsed + math.Max(*job.Progress.PrintTimeLeft, 0)))
	case job.Job.EstimatedPrintTime != nil:
		st.PrintTimeEstimate = toUint32(math.Ceil(*job.Job.EstimatedPrintTime))
	}
	if floor := toUint32(math.Ceil(st.Elapsed)); st.PrintTimeEstimate < floor {
		st.PrintTimeEstimate = floor
	}
	if job.Progress.Completion != nil {
		st.PercentComplete = clampPercent(*job.Progress.Completion)
	}

	flags := prn.State.Flags
	switch {
	case flags.Printing || flags.Paused || flags.Pausing:
		st.State = Printing
		c.acknowledged = ""
	case !flags.Operational:
		st.State = Offline
	case st.PercentComplete >= 100 && st.Filename != "" && c.acknowledged != st.Filename:
		st.State = Complete
	default:
		st.State = Operational
	}

	c.status = st
	return Fresh
}

func (c *OctoClient) fail(step string, err error) UpdateResult {
	c.status.State = Offline
	var netErr net.Error
	if errors.As(err, &netErr) {
		c.logger.Warn("printer unreachable", "url", c.service.BaseURL(), "step", step, "error", err)
		return Unreachable
	}
	c.logger.Warn("bad response from printer", "url", c.service.BaseURL(), "step", step, "error", err)
	return Stale
}

// AcknowledgeCompletion stops the current finished job from being reported
// as Complete.
func (c *OctoClient) AcknowledgeCompletion() {
	if c.status.State != Complete {
		return
	}
	c.acknowledged = c.status.Filename
	c.status.State = Operational
}

func (c *OctoClient) DumpToLog() {
	c.logger.Debug("octoprint status",
		"state", c.status.State,
		"file", c.status.Filename,
		"pct", c.status.PercentComplete,
		"elapsed_s", c.status.ElapsedSeconds(),
		"estimate_s", c.status.PrintTimeEstimate,
		"tool", c.status.Tool,
		"bed", c.status.Bed,
	)
}
