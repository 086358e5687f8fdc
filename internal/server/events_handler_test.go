package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/limiquantix/rebalancer/internal/domain"
	"github.com/limiquantix/rebalancer/internal/drs"
)

func dialEvents(t *testing.T, ts *httptest.Server, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/plans/events"
	return websocket.DefaultDialer.Dial(url, header)
}

func readEvent(t *testing.T, conn *websocket.Conn) PlanEvent {
	t.Helper()
	var event PlanEvent
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	return event
}

func TestPlanEvents_StreamsEngineRuns(t *testing.T) {
	cluster := testCluster()
	s := newTestServer(t, testConfig(), WithCluster(cluster, cluster))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := dialEvents(t, ts, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if got := readEvent(t, conn); got.Type != EventSubscribed {
		t.Fatalf("expected %s greeting, got %s", EventSubscribed, got.Type)
	}

	rec, err := s.Engine().RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	want := []struct {
		event  string
		status domain.PlanRecordStatus
	}{
		{drs.EventPlanCreated, domain.PlanStatusPending},
		{drs.EventPlanDryRun, domain.PlanStatusDryRun},
	}
	for _, w := range want {
		got := readEvent(t, conn)
		if got.Type != w.event {
			t.Fatalf("expected event %s, got %s", w.event, got.Type)
		}
		if got.ResourceID != rec.ID || got.Data == nil || got.Data.ID != rec.ID {
			t.Errorf("%s: expected plan %s, got %+v", w.event, rec.ID, got)
		}
		if got.Data != nil && got.Data.Status != w.status {
			t.Errorf("%s: expected status %s, got %s", w.event, w.status, got.Data.Status)
		}
	}
}

func TestPlanEvents_Close(t *testing.T) {
	s := newTestServer(t, testConfig())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := dialEvents(t, ts, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	readEvent(t, conn)

	if got := s.events.Clients(); got != 1 {
		t.Fatalf("expected 1 client, got %d", got)
	}

	s.events.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("expected going-away close, got %v", err)
	}
	if got := s.events.Clients(); got != 0 {
		t.Errorf("expected no clients after Close, got %d", got)
	}
}

func TestPlanEvents_Rejections(t *testing.T) {
	cfg := testConfig()
	cfg.CORS.AllowedOrigins = []string{"http://localhost:5173"}
	s := newTestServer(t, cfg)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	header := http.Header{"Origin": []string{"http://elsewhere.example"}}
	if _, resp, err := dialEvents(t, ts, header); err == nil {
		t.Error("expected handshake from a foreign origin to fail")
	} else if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for foreign origin, got %v", resp)
	}

	header = http.Header{"Origin": []string{"http://localhost:5173"}}
	conn, _, err := dialEvents(t, ts, header)
	if err != nil {
		t.Fatalf("dial from allowed origin failed: %v", err)
	}
	conn.Close()

	// A plain GET without the upgrade handshake.
	if rec := get(t, s.Handler(), "/api/v1/plans/events"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-WebSocket request, got %d", rec.Code)
	}
}
