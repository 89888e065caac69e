package display

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/john/printer_monitor/group"
	"github.com/john/printer_monitor/settings"
)

// newTestServer builds a display server over three slots: "Alpha" five
// minutes into a mock job, "Beta" holding a finished mock job, and an
// unused slot.
func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	now := time.Date(2024, 5, 6, 13, 47, 0, 0, time.UTC) // Monday
	clock := func() time.Time { return now }

	configs := []settings.PrinterConfig{
		{Type: settings.TypeOcto, Server: "alpha.local", Nickname: "Alpha", IsActive: true, Mock: true},
		{Type: settings.TypeOcto, Server: "beta.local", Nickname: "Beta", IsActive: true, Mock: true},
		settings.Default(),
	}
	g := group.New(configs, group.Options{Use24Hour: true, Clock: clock})

	// Mock jobs are timed from activation.
	ctx := context.Background()
	if !g.ActivatePrinter(ctx, 1) {
		t.Fatal("Beta not activated")
	}
	now = now.Add(13 * time.Minute)
	if !g.ActivatePrinter(ctx, 0) {
		t.Fatal("Alpha not activated")
	}
	if g.ActivatePrinter(ctx, 2) {
		t.Fatal("unused slot activated")
	}

	now = now.Add(5 * time.Minute)
	guard := NewGuard(g)
	guard.Refresh(ctx, true)

	s := NewServer(Config{Host: "127.0.0.1", Port: 0}, guard, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Hub().CloseAll()
		ts.Close()
	})
	return s, ts
}

func getJSON(t *testing.T, url string, wantStatus int, out interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
}

func TestHandleQuery(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		key  string
		want string
	}{
		{"next", "Alpha: Mon 14:17"},
		{"1.status", "Printing|20"},
		{"1.remaining", "00:12:00"},
		{"2.state", "Complete"},
		{"2.pct", "100"},
		{"3.state", "Unused"},
		{"9.state", ""},
		{"", ""},
	}
	for _, tt := range tests {
		var body struct {
			Key    string `json:"key"`
			Result string `json:"result"`
		}
		getJSON(t, ts.URL+"/api/query?key="+tt.key, http.StatusOK, &body)
		if body.Result != tt.want {
			t.Errorf("query %q = %q, want %q", tt.key, body.Result, tt.want)
		}
	}
}

func TestHandleNext(t *testing.T) {
	_, ts := newTestServer(t)

	var body struct {
		Result Next `json:"result"`
	}
	getJSON(t, ts.URL+"/api/next", http.StatusOK, &body)
	want := Next{Printing: true, Index: 1, Name: "Alpha", ETA: "Mon 14:17", Remaining: 720}
	if body.Result != want {
		t.Errorf("next = %+v, want %+v", body.Result, want)
	}
}

func TestHandlePrinters(t *testing.T) {
	_, ts := newTestServer(t)

	var list struct {
		Result []group.PrinterView `json:"result"`
	}
	getJSON(t, ts.URL+"/api/printers", http.StatusOK, &list)
	if len(list.Result) != 3 {
		t.Fatalf("printers = %d, want 3", len(list.Result))
	}
	if v := list.Result[0]; v.Name != "Alpha" || v.State != "Printing" || v.Left != 720 || v.ETA != "Mon 14:17" {
		t.Errorf("printer 1 = %+v", v)
	}
	if v := list.Result[2]; v.Active || v.State != "Unused" {
		t.Errorf("printer 3 = %+v", v)
	}

	var one struct {
		Result group.PrinterView `json:"result"`
	}
	getJSON(t, ts.URL+"/api/printers/2", http.StatusOK, &one)
	if one.Result.Index != 2 || one.Result.State != "Complete" {
		t.Errorf("printer 2 = %+v", one.Result)
	}

	getJSON(t, ts.URL+"/api/printers/0", http.StatusNotFound, nil)
	getJSON(t, ts.URL+"/api/printers/4", http.StatusNotFound, nil)
}

func TestHandleAcknowledge(t *testing.T) {
	s, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/printers/2/acknowledge", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("acknowledge status = %d", resp.StatusCode)
	}
	if got := s.guard.Query("2.state"); got != "Online" {
		t.Errorf("state after acknowledge = %q, want Online", got)
	}

	resp, err = http.Post(ts.URL+"/api/printers/3/acknowledge", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("acknowledge unused slot status = %d, want 404", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	_, ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/query", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow origin = %q", got)
	}
}

func dialHub(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/websocket"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

type rpcReply struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     int             `json:"id"`
}

func call(t *testing.T, conn *websocket.Conn, id int, method string, params interface{}) rpcReply {
	t.Helper()
	req := map[string]interface{}{"jsonrpc": "2.0", "method": method, "id": id}
	if params != nil {
		req["params"] = params
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write %s: %v", method, err)
	}
	var reply rpcReply
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read %s: %v", method, err)
	}
	if reply.ID != id {
		t.Fatalf("%s: reply id %d, want %d", method, reply.ID, id)
	}
	return reply
}

func TestWebSocketRPC(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dialHub(t, ts)

	reply := call(t, conn, 1, "server.connection.identify", nil)
	var ident struct {
		ConnectionID string `json:"connection_id"`
	}
	if err := json.Unmarshal(reply.Result, &ident); err != nil || ident.ConnectionID == "" {
		t.Errorf("identify = %s, %v", reply.Result, err)
	}

	reply = call(t, conn, 2, "printer.query", map[string]string{"key": "1.status"})
	var q struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(reply.Result, &q); err != nil {
		t.Fatal(err)
	}
	if q.Value != "Printing|20" {
		t.Errorf("printer.query value = %q", q.Value)
	}

	reply = call(t, conn, 3, "printer.list", nil)
	var views []group.PrinterView
	if err := json.Unmarshal(reply.Result, &views); err != nil || len(views) != 3 {
		t.Errorf("printer.list = %s, %v", reply.Result, err)
	}

	reply = call(t, conn, 4, "printer.bogus", nil)
	if reply.Error == nil || reply.Error.Code != -32601 {
		t.Errorf("unknown method error = %+v", reply.Error)
	}
}

func TestWebSocketBusyNotifications(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dialHub(t, ts)

	// The identify round trip guarantees the client is registered.
	call(t, conn, 1, "server.connection.identify", nil)
	if n := s.Hub().ClientCount(); n != 1 {
		t.Fatalf("clients = %d, want 1", n)
	}

	s.Hub().BeginBatch()
	s.Hub().BroadcastStatus(s.guard.Snapshot())
	s.Hub().EndBatch()

	var methods []string
	var busy []bool
	for i := 0; i < 3; i++ {
		var n struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := conn.ReadJSON(&n); err != nil {
			t.Fatalf("read notification %d: %v", i, err)
		}
		methods = append(methods, n.Method)
		if n.Method == "notify_busy" && len(n.Params) == 1 {
			var b bool
			json.Unmarshal(n.Params[0], &b)
			busy = append(busy, b)
		}
	}

	want := []string{"notify_busy", "notify_status_update", "notify_busy"}
	for i := range want {
		if methods[i] != want[i] {
			t.Errorf("notification %d = %q, want %q", i, methods[i], want[i])
		}
	}
	if len(busy) != 2 || !busy[0] || busy[1] {
		t.Errorf("busy flags = %v, want [true false]", busy)
	}
}

func TestStalledClientDoesNotBlockRefresh(t *testing.T) {
	s, ts := newTestServer(t)
	s.guard.SetBusyNotifier(s.Hub())

	conn := dialHub(t, ts)
	call(t, conn, 1, "server.connection.identify", nil)
	// conn is never read from again.

	payload := strings.Repeat("x", 1<<20)
	done := make(chan string, 1)
	go func() {
		for i := 0; i < 4*sendQueueSize; i++ {
			s.Hub().BroadcastNotification("notify_status_update", []interface{}{payload})
		}
		s.guard.Refresh(context.Background(), true)
		done <- s.guard.Query("1.state")
	}()

	select {
	case got := <-done:
		if got != "Printing" {
			t.Errorf("1.state = %q, want Printing", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("refresh and query blocked behind a client that stopped reading")
	}

	deadline := time.Now().Add(5 * time.Second)
	for s.Hub().ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("stalled client was not disconnected")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
