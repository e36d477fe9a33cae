package wifi

import (
	"testing"
	"time"

	"avbridge/internal/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) (*Manager, *FakeDriver, *clock.MockClock) {
	t.Helper()
	drv := NewFakeDriver()
	clk := clock.NewMockClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	m := NewManager(drv, clk, zap.NewNop())
	return m, drv, clk
}

func TestAPSSIDDerivedFromMAC(t *testing.T) {
	m, _, _ := newTestManager(t)

	assert.Equal(t, "AVBridge-EF1234", m.APSSID())
}

func TestConnectRequiresSSID(t *testing.T) {
	m, drv, _ := newTestManager(t)

	err := m.Connect("", "")
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Empty(t, drv.ConnectCalls)
}

func TestConnectSuccess(t *testing.T) {
	m, drv, _ := newTestManager(t)

	var states []State
	m.OnStateChange(func(s State) { states = append(states, s) })

	require.NoError(t, m.Connect("home", "secret"))
	assert.Equal(t, StateConnecting, m.State())
	assert.Equal(t, []string{"home"}, drv.ConnectCalls)

	drv.LinkStatus = LinkUp
	m.Update()

	assert.Equal(t, StateConnected, m.State())
	assert.True(t, m.IsConnected())
	assert.Equal(t, []State{StateConnecting, StateConnected}, states)
}

func TestConnectTimesOut(t *testing.T) {
	m, drv, clk := newTestManager(t)

	require.NoError(t, m.Connect("home", "secret"))
	drv.LinkStatus = LinkConnecting

	clk.Advance(connectTimeout - time.Second)
	m.Update()
	assert.Equal(t, StateConnecting, m.State())

	clk.Advance(time.Second)
	m.Update()
	assert.Equal(t, StateFailed, m.State())
}

func TestThreeConsecutiveFailuresFallBackToAP(t *testing.T) {
	m, drv, clk := newTestManager(t)

	require.NoError(t, m.Connect("home", "secret"))
	drv.LinkStatus = LinkFailed
	m.Update()
	require.Equal(t, StateFailed, m.State())

	// First retry: armed with the base delay, fires only once it elapses.
	m.Update()
	clk.Advance(baseRetryDelay - time.Second)
	m.Update()
	assert.Len(t, drv.ConnectCalls, 1)

	clk.Advance(time.Second)
	m.Update()
	require.Len(t, drv.ConnectCalls, 2)
	require.Equal(t, StateConnecting, m.State())

	drv.LinkStatus = LinkFailed
	m.Update()
	require.Equal(t, StateFailed, m.State())

	// Second retry: delay doubles.
	m.Update()
	clk.Advance(baseRetryDelay)
	m.Update()
	assert.Len(t, drv.ConnectCalls, 2)

	clk.Advance(baseRetryDelay)
	m.Update()
	require.Len(t, drv.ConnectCalls, 3)

	drv.LinkStatus = LinkFailed
	m.Update()
	require.Equal(t, StateFailed, m.State())

	// Retry budget exhausted, AP comes up.
	m.Update()
	assert.Equal(t, StateAPActive, m.State())
	assert.True(t, drv.APActive)
	assert.Equal(t, "AVBridge-EF1234", drv.LastAPConfig.SSID)
	assert.Empty(t, drv.LastAPConfig.Password)
	assert.Equal(t, "192.168.1.1", drv.LastAPConfig.IP.String())
}

func TestLinkUpResetsRetryCounter(t *testing.T) {
	m, drv, clk := newTestManager(t)

	require.NoError(t, m.Connect("home", "secret"))
	drv.LinkStatus = LinkFailed
	m.Update()
	m.Update() // arms first retry

	// Link recovers on its own before the retry fires.
	drv.LinkStatus = LinkUp
	m.Update()
	require.Equal(t, StateConnected, m.State())

	// A fresh failure cycle gets the full retry budget again.
	drv.LinkStatus = LinkIdle
	m.Update()
	clk.Advance(disconnectTolerance)
	m.Update()
	require.Equal(t, StateFailed, m.State())

	m.Update()
	clk.Advance(baseRetryDelay)
	m.Update()
	assert.Len(t, drv.ConnectCalls, 2)
}

func TestDisconnectToleranceSuppressesTransientDrops(t *testing.T) {
	m, drv, clk := newTestManager(t)

	require.NoError(t, m.Connect("home", "secret"))
	drv.LinkStatus = LinkUp
	m.Update()
	require.Equal(t, StateConnected, m.State())

	// Brief drop, link back before the tolerance elapses.
	drv.LinkStatus = LinkIdle
	m.Update()
	clk.Advance(disconnectTolerance - time.Second)
	m.Update()
	assert.Equal(t, StateConnected, m.State())

	drv.LinkStatus = LinkUp
	m.Update()
	assert.Equal(t, StateConnected, m.State())

	// Sustained drop is honored after the tolerance.
	drv.LinkStatus = LinkIdle
	m.Update()
	clk.Advance(disconnectTolerance)
	m.Update()
	assert.Equal(t, StateFailed, m.State())
}

func TestAPBackgroundReconnectSucceeds(t *testing.T) {
	m, drv, clk := newTestManager(t)

	require.NoError(t, m.Connect("home", "secret"))
	require.NoError(t, m.StartAccessPoint())
	require.Equal(t, StateAPActive, m.State())
	baseline := len(drv.ConnectCalls)

	// No attempt before the interval elapses.
	clk.Advance(apReconnectInterval - time.Second)
	m.Update()
	assert.Len(t, drv.ConnectCalls, baseline)
	assert.False(t, m.IsReconnecting())

	clk.Advance(time.Second)
	m.Update()
	require.Len(t, drv.ConnectCalls, baseline+1)
	assert.True(t, m.IsReconnecting())
	assert.Equal(t, StateAPActive, m.State())

	drv.LinkStatus = LinkUp
	m.Update()
	assert.Equal(t, StateConnected, m.State())
	assert.False(t, drv.APActive)
	assert.False(t, m.IsReconnecting())
}

func TestAPBackgroundReconnectFailureKeepsAP(t *testing.T) {
	m, drv, clk := newTestManager(t)

	require.NoError(t, m.Connect("home", "secret"))
	require.NoError(t, m.StartAccessPoint())

	clk.Advance(apReconnectInterval)
	m.Update()
	require.True(t, m.IsReconnecting())

	drv.LinkStatus = LinkFailed
	m.Update()

	assert.Equal(t, StateAPActive, m.State())
	assert.True(t, drv.APActive)
	assert.False(t, m.IsReconnecting())

	// Next attempt only after another full interval.
	clk.Advance(apReconnectInterval - time.Second)
	m.Update()
	assert.False(t, m.IsReconnecting())
	clk.Advance(time.Second)
	m.Update()
	assert.True(t, m.IsReconnecting())
}

func TestAPReconnectAttemptTimesOut(t *testing.T) {
	m, drv, clk := newTestManager(t)

	require.NoError(t, m.Connect("home", "secret"))
	require.NoError(t, m.StartAccessPoint())

	clk.Advance(apReconnectInterval)
	m.Update()
	require.True(t, m.IsReconnecting())

	drv.LinkStatus = LinkConnecting
	clk.Advance(apReconnectTimeout)
	m.Update()

	assert.False(t, m.IsReconnecting())
	assert.Equal(t, StateAPActive, m.State())
	assert.True(t, drv.APActive)
}

func TestAPReconnectSkippedWithoutCredentials(t *testing.T) {
	m, drv, clk := newTestManager(t)

	require.NoError(t, m.StartAccessPoint())

	clk.Advance(2 * apReconnectInterval)
	m.Update()

	assert.Empty(t, drv.ConnectCalls)
	assert.Equal(t, StateAPActive, m.State())
}

func TestConnectFromAPModeStopsAP(t *testing.T) {
	m, drv, _ := newTestManager(t)

	require.NoError(t, m.Connect("home", "secret"))
	require.NoError(t, m.StartAccessPoint())
	require.True(t, drv.APActive)

	require.NoError(t, m.Connect("other", "pw"))
	assert.False(t, drv.APActive)
	assert.Equal(t, StateConnecting, m.State())
	assert.Equal(t, "other", drv.ConnectCalls[len(drv.ConnectCalls)-1])
}

func TestDisconnectRefusedInAPMode(t *testing.T) {
	m, drv, _ := newTestManager(t)

	require.NoError(t, m.StartAccessPoint())
	m.Disconnect()

	assert.Equal(t, StateAPActive, m.State())
	assert.True(t, drv.APActive)
}
