package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/coin-relay/internal/ledger"
	"github.com/sweeney/coin-relay/internal/logic"
	"github.com/sweeney/coin-relay/internal/status"
)

type fakeHistory struct {
	entries []ledger.Entry
	err     error
	limit   int
}

func (f *fakeHistory) Recent(limit int) ([]ledger.Entry, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func newTestServer(t *testing.T, rpc http.Handler, history History) (*httptest.Server, *status.Tracker) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		Policy:           logic.PolicyCoin,
		CheckIntervalMs:  1000,
		ReportIntervalMs: 60000,
		DebounceMs:       50,
		Broker:           "tcp://192.168.1.200:1883",
		HTTPAddr:         ":8080",
		StateFile:        "machine_state.json",
	}
	tr := status.NewTracker(start, cfg)
	srv := New(":0", tr, rpc, history)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tr
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode JSON: %v", err)
		}
	}
	return resp
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr := newTestServer(t, nil, nil)
	tr.Update(logic.MachineState{On: true, Counter: 5}, logic.TimeWindow{StartHour: 22, EndHour: 6})
	tr.SetMQTTConnected(true)

	var sj status.StatusJSON
	resp := getJSON(t, ts.URL+"/index.json", &sj)

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}
	if sj.Status.Machine != "ON" {
		t.Errorf("Machine: got %q, want ON", sj.Status.Machine)
	}
	if sj.Status.Total != 5 {
		t.Errorf("Total: got %v, want 5", sj.Status.Total)
	}
	if sj.Status.Window != "22:00-06:00" {
		t.Errorf("Window: got %q", sj.Status.Window)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.Config.CheckIntervalMs != 1000 {
		t.Errorf("Config.CheckIntervalMs: got %d, want 1000", sj.Status.Config.CheckIntervalMs)
	}
	if sj.Status.Config.Policy != "coin" {
		t.Errorf("Config.Policy: got %q", sj.Status.Config.Policy)
	}
}

func TestJSONNetworkInfo(t *testing.T) {
	ts, tr := newTestServer(t, nil, nil)
	tr.SetNetwork(&status.NetworkInfo{
		Type:   "wifi",
		IP:     "192.168.1.42",
		Status: "connected",
		SSID:   "MyNet",
	})

	var sj status.StatusJSON
	getJSON(t, ts.URL+"/index.json", &sj)

	if sj.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if sj.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", sj.Status.Network.IP)
	}
}

func TestHTMLEndpointRoot(t *testing.T) {
	ts, tr := newTestServer(t, nil, nil)
	tr.Update(logic.MachineState{On: true, Counter: 17}, logic.TimeWindow{})

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type: got %q, want text/html", ct)
	}
	if !strings.Contains(string(body), `<td id="machine-state" class="on">ON</td>`) {
		t.Error("expected machine state ON in page")
	}
	if !strings.Contains(string(body), `<td id="total">17</td>`) {
		t.Error("expected total in page")
	}
}

func TestHTMLEndpointIndexHTML(t *testing.T) {
	ts, _ := newTestServer(t, nil, nil)

	resp := getJSON(t, ts.URL+"/index.html", nil)
	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _ := newTestServer(t, nil, nil)

	resp := getJSON(t, ts.URL+"/nonexistent", nil)
	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	ts, tr := newTestServer(t, nil, nil)

	var sj1 status.StatusJSON
	getJSON(t, ts.URL+"/index.json", &sj1)
	if sj1.Status.Machine != "OFF" {
		t.Errorf("expected OFF initially, got %q", sj1.Status.Machine)
	}

	tr.Record(logic.Transition{Cause: logic.CauseCoin, To: logic.MachineState{On: true, Counter: 1}})
	tr.SetMQTTConnected(true)

	var sj2 status.StatusJSON
	getJSON(t, ts.URL+"/index.json", &sj2)
	if sj2.Status.Machine != "ON" {
		t.Errorf("Machine: got %q, want ON", sj2.Status.Machine)
	}
	if sj2.Status.LastCause != "COIN" {
		t.Errorf("LastCause: got %q, want COIN", sj2.Status.LastCause)
	}
	if sj2.Status.Transitions != 1 {
		t.Errorf("Transitions: got %d, want 1", sj2.Status.Transitions)
	}
}

func TestRPCMounted(t *testing.T) {
	var paths []string
	rpc := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusTeapot)
	})
	ts, _ := newTestServer(t, rpc, nil)

	for _, p := range []string{"/rpc", "/rpc/Config.Set", "/rpc/ws"} {
		resp := getJSON(t, ts.URL+p, nil)
		if resp.StatusCode != http.StatusTeapot {
			t.Errorf("%s: got %d, want rpc handler", p, resp.StatusCode)
		}
	}
	if len(paths) != 3 {
		t.Errorf("expected 3 rpc calls, got %d", len(paths))
	}
}

func TestRPCNotMountedWhenNil(t *testing.T) {
	ts, _ := newTestServer(t, nil, nil)

	resp := getJSON(t, ts.URL+"/rpc/Counters.Get", nil)
	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestHistory(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	h := &fakeHistory{entries: []ledger.Entry{
		{EventID: "b", At: at.Add(time.Minute), Kind: ledger.KindReset, FromTotal: 9, Reason: "emptied"},
		{EventID: "a", At: at, Kind: ledger.KindTransition, Cause: "COIN", ToOn: true, ToTotal: 9},
	}}
	ts, _ := newTestServer(t, nil, h)

	var got []historyJSON
	getJSON(t, ts.URL+"/history.json", &got)
	if h.limit != defaultHistory {
		t.Errorf("limit: got %d, want %d", h.limit, defaultHistory)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Kind != "reset" || got[0].Reason != "emptied" {
		t.Errorf("first entry: %+v", got[0])
	}
	if got[1].Time != "2026-03-01T10:00:00Z" || got[1].Cause != "COIN" {
		t.Errorf("second entry: %+v", got[1])
	}

	getJSON(t, ts.URL+"/history.json?limit=1", &got)
	if len(got) != 1 || h.limit != 1 {
		t.Errorf("limit=1: got %d entries, limit %d", len(got), h.limit)
	}
}

func TestHistoryErrors(t *testing.T) {
	ts, _ := newTestServer(t, nil, &fakeHistory{err: errors.New("db locked")})

	if resp := getJSON(t, ts.URL+"/history.json", nil); resp.StatusCode != 500 {
		t.Errorf("status: got %d, want 500", resp.StatusCode)
	}
	if resp := getJSON(t, ts.URL+"/history.json?limit=x", nil); resp.StatusCode != 400 {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}

func TestServeAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	tr := status.NewTracker(time.Now(), status.Config{Policy: logic.PolicyCoin})
	srv := New(ln.Addr().String(), tr, nil, nil)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/index.json")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-done; !errors.Is(err, http.ErrServerClosed) {
		t.Errorf("Serve returned %v, want ErrServerClosed", err)
	}
}
