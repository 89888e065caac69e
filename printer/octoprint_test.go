package printer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakeOcto struct {
	mu       sync.Mutex
	apiKey   string
	job      map[string]interface{}
	printer  map[string]interface{}
	conflict bool
}

func (f *fakeOcto) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("X-Api-Key") != f.apiKey {
		http.Error(w, "invalid api key", http.StatusForbidden)
		return
	}
	var body interface{}
	switch r.URL.Path {
	case "/api/job":
		body = f.job
	case "/api/printer":
		if f.conflict {
			http.Error(w, "Printer is not operational", http.StatusConflict)
			return
		}
		body = f.printer
	default:
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func (f *fakeOcto) set(fn func(f *fakeOcto)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func octoJob(name string, completion, printTime, left float64) map[string]interface{} {
	return map[string]interface{}{
		"job": map[string]interface{}{
			"file":               map[string]interface{}{"name": name},
			"estimatedPrintTime": printTime + left,
		},
		"progress": map[string]interface{}{
			"completion":    completion,
			"printTime":     printTime,
			"printTimeLeft": left,
		},
		"state": "Printing",
	}
}

func octoPrinter(printing bool) map[string]interface{} {
	return map[string]interface{}{
		"temperature": map[string]interface{}{
			"tool0": map[string]interface{}{"actual": 214.8, "target": 215.0},
			"bed":   map[string]interface{}{"actual": 65.1, "target": 65.0},
		},
		"state": map[string]interface{}{
			"text": "Printing",
			"flags": map[string]interface{}{
				"operational": true,
				"printing":    printing,
			},
		},
	}
}

func newOctoFixture(t *testing.T) (*fakeOcto, *httptest.Server, *OctoClient) {
	t.Helper()
	fake := &fakeOcto{apiKey: "ABC123"}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	host, port := hostPort(t, srv.URL)
	return fake, srv, NewOctoClient(host, port, Credentials{APIKey: "ABC123"}, nil)
}

func TestOctoPrinting(t *testing.T) {
	fake, _, c := newOctoFixture(t)
	fake.set(func(f *fakeOcto) {
		f.job = octoJob("cube.gcode", 37.5, 750, 1250)
		f.printer = octoPrinter(true)
	})

	if got := c.UpdateState(context.Background()); got != Fresh {
		t.Fatalf("UpdateState = %v, want fresh", got)
	}
	if c.State() != Printing {
		t.Errorf("state = %v, want Printing", c.State())
	}
	if c.PctComplete() != 37.5 {
		t.Errorf("pct = %f", c.PctComplete())
	}
	if c.PrintTimeLeft() != 1250 || c.ElapsedTime() != 750 {
		t.Errorf("left = %d elapsed = %d", c.PrintTimeLeft(), c.ElapsedTime())
	}
	if c.ToolTemps().Target != 215 || c.BedTemps().Actual != 65.1 {
		t.Errorf("temps = %+v %+v", c.ToolTemps(), c.BedTemps())
	}
}

func TestOctoCompleteUntilAcknowledged(t *testing.T) {
	fake, _, c := newOctoFixture(t)
	ctx := context.Background()
	fake.set(func(f *fakeOcto) {
		f.job = octoJob("cube.gcode", 100, 2000, 0)
		f.printer = octoPrinter(false)
	})

	c.UpdateState(ctx)
	if c.State() != Complete {
		t.Fatalf("state = %v, want Complete", c.State())
	}

	c.AcknowledgeCompletion()
	if c.State() != Operational {
		t.Errorf("state after ack = %v, want Operational", c.State())
	}
	c.UpdateState(ctx)
	if c.State() != Operational {
		t.Errorf("state after ack and poll = %v, want Operational", c.State())
	}

	// A new print of the same file re-arms completion.
	fake.set(func(f *fakeOcto) {
		f.job = octoJob("cube.gcode", 50, 1000, 1000)
		f.printer = octoPrinter(true)
	})
	c.UpdateState(ctx)
	fake.set(func(f *fakeOcto) {
		f.job = octoJob("cube.gcode", 100, 2000, 0)
		f.printer = octoPrinter(false)
	})
	c.UpdateState(ctx)
	if c.State() != Complete {
		t.Errorf("state = %v, want Complete", c.State())
	}
}

func TestOctoNotConnectedToPrinter(t *testing.T) {
	fake, _, c := newOctoFixture(t)
	fake.set(func(f *fakeOcto) {
		f.job = octoJob("", 0, 0, 0)
		f.conflict = true
	})
	if got := c.UpdateState(context.Background()); got != Fresh {
		t.Errorf("UpdateState = %v, want fresh", got)
	}
	if c.State() != Offline {
		t.Errorf("state = %v, want Offline", c.State())
	}
}

func TestOctoBadAPIKey(t *testing.T) {
	fake, _, c := newOctoFixture(t)
	fake.set(func(f *fakeOcto) {
		f.job = octoJob("cube.gcode", 40, 400, 600)
		f.printer = octoPrinter(true)
	})
	c.UpdateState(context.Background())
	fake.set(func(f *fakeOcto) { f.apiKey = "rotated" })

	if got := c.UpdateState(context.Background()); got != Stale {
		t.Errorf("UpdateState = %v, want stale", got)
	}
	if c.State() != Offline || c.PctComplete() != 40 {
		t.Errorf("state = %v pct = %f", c.State(), c.PctComplete())
	}
}

func TestMockCycle(t *testing.T) {
	start := time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)
	now := start
	c := NewMockClient(func() time.Time { return now }, nil)
	ctx := context.Background()

	c.UpdateState(ctx)
	if c.State() != Operational {
		t.Errorf("state at start = %v, want Operational", c.State())
	}

	now = start.Add(mockIdle + 5*time.Minute)
	c.UpdateState(ctx)
	if !c.IsPrinting() {
		t.Fatalf("state = %v, want Printing", c.State())
	}
	if c.ElapsedTime() != 300 || c.PrintTimeLeft() != 600 {
		t.Errorf("elapsed = %d left = %d", c.ElapsedTime(), c.PrintTimeLeft())
	}

	now = start.Add(mockIdle + mockJob + time.Minute)
	c.UpdateState(ctx)
	if c.State() != Complete {
		t.Fatalf("state = %v, want Complete", c.State())
	}
	c.AcknowledgeCompletion()
	c.UpdateState(ctx)
	if c.State() != Operational {
		t.Errorf("state after ack = %v, want Operational", c.State())
	}

	// The next cycle completes again.
	now = start.Add(mockCycle + mockIdle + mockJob + time.Minute)
	c.UpdateState(ctx)
	if c.State() != Complete {
		t.Errorf("state in next cycle = %v, want Complete", c.State())
	}
}
