package admin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vango-dev/lumenstream/pkg/delta"
	"github.com/vango-dev/lumenstream/pkg/fragment"
	"github.com/vango-dev/lumenstream/pkg/protocol"
	"github.com/vango-dev/lumenstream/pkg/session"
	"github.com/vango-dev/lumenstream/pkg/transport"
)

type fakeSource struct {
	running  bool
	sessions []session.Info
	full     *transport.FrameState
}

func (f *fakeSource) Sessions() []session.Info { return f.sessions }
func (f *fakeSource) SessionStats() session.Stats {
	return session.Stats{Total: len(f.sessions), UniqueIPs: 1}
}
func (f *fakeSource) EncoderStats() delta.Stats { return delta.Stats{Full: 3, Diff: 40} }
func (f *fakeSource) ReassemblyStats() fragment.Stats { return fragment.Stats{Completed: 2} }
func (f *fakeSource) LastFull() (transport.FrameState, bool) {
	if f.full == nil {
		return transport.FrameState{}, false
	}
	return *f.full, true
}
func (f *fakeSource) LocalAddr() net.Addr {
	if !f.running {
		return nil
	}
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8081}
}

func newTestServer(src *fakeSource, reg *prometheus.Registry) *Server {
	return New(src, Config{
		Gatherer:       reg,
		StatusInterval: 20 * time.Millisecond,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func testSource() *fakeSource {
	return &fakeSource{
		running: true,
		sessions: []session.Info{
			{ID: "a1", Addr: "10.0.0.5:4000", Name: "wall"},
			{ID: "b2", Addr: "10.0.0.5:4001"},
		},
		full: &transport.FrameState{
			Geometry: protocol.Geometry{Width: 4, Height: 2, Format: protocol.FormatRGB},
			Pixels:   make([]byte, 24),
		},
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		running bool
		want    int
	}{
		{"running", true, http.StatusOK},
		{"stopped", false, http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(&fakeSource{running: tc.running}, prometheus.NewRegistry())
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestSessions(t *testing.T) {
	s := newTestServer(testSource(), prometheus.NewRegistry())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var list []session.Info
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("body is not a session list: %v", err)
	}
	if len(list) != 2 || list[0].Name != "wall" {
		t.Errorf("sessions = %+v", list)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/b2", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"id":"b2"`) {
		t.Errorf("/sessions/b2 = %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/zz", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("/sessions/zz status = %d, want 404", rec.Code)
	}
}

func TestEmptySessionsIsArray(t *testing.T) {
	s := newTestServer(&fakeSource{running: true}, prometheus.NewRegistry())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestStatus(t *testing.T) {
	s := newTestServer(testSource(), prometheus.NewRegistry())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status?sessions=1", nil))

	var st Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !st.Running || st.Addr != "127.0.0.1:8081" {
		t.Errorf("running = %v, addr = %q", st.Running, st.Addr)
	}
	if st.Sessions.Total != 2 || st.Encoder.Diff != 40 || st.Reassembly.Completed != 2 {
		t.Errorf("status = %+v", st)
	}
	if st.Frame == nil || st.Frame.Width != 4 || st.Frame.Bytes != 24 || st.Frame.Format != "RGB" {
		t.Errorf("frame = %+v", st.Frame)
	}
	if len(st.Active) != 2 {
		t.Errorf("active = %d, want 2", len(st.Active))
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := transport.NewMetrics(transport.WithRegistry(reg))
	m.DroppedTotal.WithLabelValues(transport.DropMalformed).Add(3)

	s := newTestServer(testSource(), reg)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `lumen_transport_dropped_total{reason="malformed"} 3`) {
		t.Errorf("metrics output missing drop counter:\n%s", body)
	}
}

func TestStatusSocket(t *testing.T) {
	s := newTestServer(testSource(), prometheus.NewRegistry())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/status"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 2; i++ {
		var st Status
		if err := conn.ReadJSON(&st); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		if st.Sessions.Total != 2 {
			t.Errorf("push %d sessions = %d", i, st.Sessions.Total)
		}
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s := newTestServer(testSource(), prometheus.NewRegistry())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}
