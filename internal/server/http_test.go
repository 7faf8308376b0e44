package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"inspection-robot/internal/control"
	"inspection-robot/internal/drive"
	"inspection-robot/internal/hardware"
	"inspection-robot/internal/models"
	"inspection-robot/internal/nav"
	"inspection-robot/internal/safety"
	"inspection-robot/internal/sensors"
)

type serverFixture struct {
	srv  *httptest.Server
	loop *control.Loop
	hub  *Hub
	rig  *hardware.SimRig
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	rig := hardware.NewSimRig()
	machine := nav.NewMachine(60, 10)
	supervisor := safety.NewSupervisor(rig, 15*time.Second, 200, time.Now())
	driver := drive.NewDriver(rig.Left(), rig.Right(), drive.Params{
		RampStepPct: 5, TurnFactor: 0.7, PivotFactor: 0.6, MinDutyPct: 20, BrakePulseTick: 3,
	})
	odo := drive.NewOdometry(120, 450, 360)
	monitor := sensors.NewMonitor(rig, 100*time.Millisecond)

	loop := control.NewLoop(control.Deps{
		Machine:    machine,
		Supervisor: supervisor,
		Driver:     driver,
		Odometry:   odo,
		Encoder:    rig,
		Monitor:    monitor,
		Camera:     rig,
		Leds:       rig,
		EStopLine:  rig,
		Tick:       2 * time.Millisecond,
		LightPct:   80,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	hub := NewHub(loop, "PIT-TEST", 3)
	api := NewHTTPServer(loop, hub, "127.0.0.1", "0")
	srv := httptest.NewServer(api.Handler())

	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &serverFixture{srv: srv, loop: loop, hub: hub, rig: rig}
}

func (f *serverFixture) postCommand(t *testing.T, body string) (*http.Response, models.CommandAck) {
	t.Helper()
	resp, err := http.Post(f.srv.URL+"/api/command", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)

	var ack models.CommandAck
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	resp.Body.Close()
	return resp, ack
}

func (f *serverFixture) dialWS(t *testing.T) (*websocket.Conn, string) {
	t.Helper()
	url := strings.Replace(f.srv.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var hello struct {
		Type string `json:"type"`
		Role string `json:"role"`
	}
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, "hello", hello.Type)
	return conn, hello.Role
}

func readAck(t *testing.T, conn *websocket.Conn) models.CommandAck {
	t.Helper()
	var env struct {
		Type string            `json:"type"`
		Data models.CommandAck `json:"data"`
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&env))
	require.Equal(t, "ack", env.Type)
	return env.Data
}

func TestPing(t *testing.T) {
	f := newServerFixture(t)
	resp, err := http.Get(f.srv.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusEndpoint(t *testing.T) {
	f := newServerFixture(t)
	resp, err := http.Get(f.srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap models.TelemetrySnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Equal(t, models.ModeIdle, snap.Mode)
	require.True(t, snap.ConnectionAlive)
}

func TestRESTCommandFallback(t *testing.T) {
	f := newServerFixture(t)

	resp, ack := f.postCommand(t, `{"action":"forward"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, models.AckAccepted, ack.Status)
	require.Equal(t, models.ModeManual, ack.Mode)
}

func TestRESTRejectsBadInput(t *testing.T) {
	f := newServerFixture(t)

	resp, err := http.Post(f.srv.URL+"/api/command", "application/json", bytes.NewBufferString(`{"action":`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(f.srv.URL+"/api/command", "application/json", bytes.NewBufferString(`{"action":"fly"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRESTEStopAndRelease(t *testing.T) {
	f := newServerFixture(t)

	resp, err := http.Post(f.srv.URL+"/api/estop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// give the loop a tick to latch, then motion must be refused
	time.Sleep(20 * time.Millisecond)
	require.True(t, f.loop.Snapshot().EStopLatched)

	resp2, ack := f.postCommand(t, `{"action":"forward"}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp2.StatusCode)
	require.Equal(t, models.AckRejected, ack.Status)

	resp, err = http.Post(f.srv.URL+"/api/estop/release", "application/json", nil)
	require.NoError(t, err)
	var rel models.CommandAck
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rel))
	resp.Body.Close()
	require.Equal(t, models.AckAccepted, rel.Status)
	require.Equal(t, models.ModeIdle, rel.Mode)
}

func TestWSControllerAndObserverRoles(t *testing.T) {
	f := newServerFixture(t)

	ctrl, role := f.dialWS(t)
	require.Equal(t, "controller", role)

	obs, role := f.dialWS(t)
	require.Equal(t, "observer", role)

	// controller commands reach the robot
	require.NoError(t, ctrl.WriteJSON(map[string]string{"action": "forward"}))
	ack := readAck(t, ctrl)
	require.Equal(t, models.AckAccepted, ack.Status)
	require.Equal(t, models.ModeManual, ack.Mode)

	// observer motion is refused without touching state
	require.NoError(t, obs.WriteJSON(map[string]string{"action": "backward"}))
	ack = readAck(t, obs)
	require.Equal(t, models.AckRejected, ack.Status)

	// but an observer can still emergency-stop
	require.NoError(t, obs.WriteJSON(map[string]string{"action": "estop"}))
	ack = readAck(t, obs)
	require.Equal(t, models.AckAccepted, ack.Status)
	time.Sleep(20 * time.Millisecond)
	require.True(t, f.loop.Snapshot().EStopLatched)
}

func TestRESTMotionRefusedWhileControllerConnected(t *testing.T) {
	f := newServerFixture(t)

	_, role := f.dialWS(t)
	require.Equal(t, "controller", role)

	resp, err := http.Post(f.srv.URL+"/api/command", "application/json",
		bytes.NewBufferString(`{"action":"forward"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	// emergency stop is never gated on session ownership
	resp, err = http.Post(f.srv.URL+"/api/command", "application/json",
		bytes.NewBufferString(`{"action":"estop"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWSSessionLimit(t *testing.T) {
	f := newServerFixture(t)

	f.dialWS(t)
	f.dialWS(t)
	f.dialWS(t) // limit is 3

	url := strings.Replace(f.srv.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		// server may accept the upgrade and close immediately
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, readErr := conn.ReadMessage()
		require.Error(t, readErr)
		conn.Close()
	}
}

func TestTelemetryFanout(t *testing.T) {
	f := newServerFixture(t)

	ctrl, _ := f.dialWS(t)

	f.hub.PublishTelemetry(f.loop.Snapshot())

	var env struct {
		Type string                   `json:"type"`
		Data models.TelemetrySnapshot `json:"data"`
	}
	require.NoError(t, ctrl.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ctrl.ReadJSON(&env))
	require.Equal(t, "telemetry", env.Type)
	require.Equal(t, models.ModeIdle, env.Data.Mode)
}
