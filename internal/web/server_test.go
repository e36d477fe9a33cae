package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"avbridge/internal/bridge"
	"avbridge/internal/clock"
	"avbridge/internal/config"
	"avbridge/internal/processor"
	"avbridge/internal/receiver"
	"avbridge/internal/switcher"
	"avbridge/internal/telemetry"
	"avbridge/internal/transport"
	"avbridge/internal/trigger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	server  *Server
	swTr    *transport.Fake
	procTr  *transport.Fake
	recvTr  *transport.Fake
	bridge  *bridge.Bridge
	cfgPath string
}

func newFixture(t *testing.T, withReceiver bool) *fixture {
	t.Helper()
	logger := zap.NewNop()
	clk := clock.NewMockClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	swTr := transport.NewFake()
	sw, err := switcher.New(switcher.KindExtronSwVga, swTr, clk, logger)
	require.NoError(t, err)

	table := trigger.NewTable([]trigger.Mapping{
		{Input: 1, Mode: trigger.ModeSVS, Profile: 3, Name: "Chromecast"},
	}, logger)

	procTr := transport.NewFake()
	proc := processor.New(procTr, processor.PowerModeOff, processor.DefaultBootTimeout, clk, logger)

	var recv *receiver.Controller
	recvTr := transport.NewFake()
	if withReceiver {
		recv = receiver.New(recvTr, "DVD", clk, logger)
	}

	b := bridge.New(sw, table, proc, recv, nil, telemetry.NewFake(), clk, logger)

	cfg := config.Default()
	cfg.Wifi.SSID = "home"
	cfg.Wifi.Password = "secret"
	cfgPath := filepath.Join(t.TempDir(), "avbridge.yaml")

	srv := NewServer(b, cfg, cfgPath, logger)
	b.AddListener(srv.HandleEvent)
	return &fixture{server: srv, swTr: swTr, procTr: procTr, recvTr: recvTr, bridge: b, cfgPath: cfgPath}
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t, true)
	rec := doRequest(t, f.server, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t, true)

	f.swTr.QueueLine("In1 All")
	f.bridge.Update()

	rec := doRequest(t, f.server, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status bridge.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 1, status.Input)
	assert.Equal(t, string(switcher.KindExtronSwVga), status.SwitcherKind)
	assert.True(t, status.AutoSwitch)
}

func TestGetConfigRedactsPassword(t *testing.T) {
	f := newFixture(t, true)

	rec := doRequest(t, f.server, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var cfg config.Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, "home", cfg.Wifi.SSID)
	assert.Equal(t, "********", cfg.Wifi.Password)
}

func TestPostConfigSavesAndAppliesAutoSwitch(t *testing.T) {
	f := newFixture(t, true)

	cfg := config.Default()
	cfg.Wifi.SSID = "other"
	cfg.Switcher.AutoSwitch = false
	body, err := json.Marshal(cfg)
	require.NoError(t, err)

	rec := doRequest(t, f.server, http.MethodPost, "/api/config", string(body))
	require.Equal(t, http.StatusOK, rec.Code)

	saved, err := config.Load(f.cfgPath, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "other", saved.Wifi.SSID)
	assert.False(t, saved.Switcher.AutoSwitch)

	assert.False(t, f.bridge.Status().AutoSwitch)
}

func TestPostConfigSwapsTriggerTable(t *testing.T) {
	f := newFixture(t, true)

	cfg := config.Default()
	cfg.Triggers = []config.TriggerConfig{
		{Input: 4, Mode: "REMOTE", Profile: 7, Name: "Projector"},
	}
	body, err := json.Marshal(cfg)
	require.NoError(t, err)

	rec := doRequest(t, f.server, http.MethodPost, "/api/config", string(body))
	require.Equal(t, http.StatusOK, rec.Code)

	// The new mapping dispatches without a restart.
	f.swTr.QueueLine("In4 All")
	f.bridge.Update()
	assert.Equal(t, "\rremote prof7\r", f.procTr.LastSent())

	// The old mapping for input 1 is gone.
	f.swTr.QueueLine("In1 All")
	f.bridge.Update()
	assert.Len(t, f.procTr.Sent, 1)
}

func TestPostConfigRejectsUnknownFields(t *testing.T) {
	f := newFixture(t, true)
	rec := doRequest(t, f.server, http.MethodPost, "/api/config", `{"bogus": true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommandDispatch(t *testing.T) {
	f := newFixture(t, true)

	rec := doRequest(t, f.server, http.MethodPost, "/api/command",
		`{"target":"switcher","command":"2!"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2!\r\n", f.swTr.LastSent())

	rec = doRequest(t, f.server, http.MethodPost, "/api/command",
		`{"target":"processor","command":"pwr on"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "\rpwr on\r", f.procTr.LastSent())

	rec = doRequest(t, f.server, http.MethodPost, "/api/command",
		`{"target":"receiver","command":"MVUP"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MVUP\r", f.recvTr.LastSent())
}

func TestCommandValidation(t *testing.T) {
	f := newFixture(t, true)

	rec := doRequest(t, f.server, http.MethodPost, "/api/command", `{"target":"toaster","command":"on"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, f.server, http.MethodPost, "/api/command", `{"target":"switcher"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommandToDisconnectedDevice(t *testing.T) {
	f := newFixture(t, true)
	f.procTr.Connected = false

	rec := doRequest(t, f.server, http.MethodPost, "/api/command",
		`{"target":"processor","command":"pwr on"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestReceiverEndpointsWhenDisabled(t *testing.T) {
	f := newFixture(t, false)

	rec := doRequest(t, f.server, http.MethodPost, "/api/command",
		`{"target":"receiver","command":"PWON"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, f.server, http.MethodPost, "/api/receiver/discover", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, f.server, http.MethodGet, "/api/receiver/discover", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"complete":true,"devices":[]}`, rec.Body.String())
}

func TestRecentLines(t *testing.T) {
	f := newFixture(t, true)

	f.swTr.QueueLine("In1 All")
	f.swTr.QueueLine("Sig 1 0 0")
	f.bridge.Update()

	rec := doRequest(t, f.server, http.MethodGet, "/api/switcher/recent?n=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"lines":["Sig 1 0 0"]}`, rec.Body.String())

	rec = doRequest(t, f.server, http.MethodGet, "/api/switcher/recent?n=bad", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAutoSwitchEndpoint(t *testing.T) {
	f := newFixture(t, true)

	rec := doRequest(t, f.server, http.MethodPost, "/api/switcher/autoswitch", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.bridge.Status().AutoSwitch)
}

func TestWebsocketEventStream(t *testing.T) {
	f := newFixture(t, true)

	ts := httptest.NewServer(f.server.Router())
	defer ts.Close()
	defer f.server.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the handler a moment to register the subscriber.
	time.Sleep(50 * time.Millisecond)

	f.swTr.QueueLine("In1 All")
	f.bridge.Update()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev telemetry.Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, "input_change", ev.Kind)
	assert.Equal(t, 1, ev.Input)
}
