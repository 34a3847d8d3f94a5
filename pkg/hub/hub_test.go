package hub

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/homelabhq/hub/pkg/events"
	"github.com/homelabhq/hub/pkg/scheduler"
	"github.com/homelabhq/hub/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVaultKey() string {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return base64.URLEncoding.EncodeToString(key)
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	cfg := Config{
		DataDir:        t.TempDir(),
		VaultKeyBase64: testVaultKey(),
		HubURL:         "https://hub.example.internal",
		Alerts:         types.DefaultAlertConfig(),
		Scheduler:      scheduler.Config{DriftCheckCron: "0 3 * * *", CostRolloverCron: "0 0 * * *"},
	}
	h, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Shutdown() })
	return h
}

func TestNewWiresEveryComponent(t *testing.T) {
	h := newTestHub(t)
	assert.NotNil(t, h.Heartbeats())
	assert.NotNil(t, h.Alerts())
	assert.NotNil(t, h.Actions())
	assert.NotNil(t, h.ConfigPacks())
	assert.NotNil(t, h.Tokens())
	assert.NotNil(t, h.Executor())
	assert.NotNil(t, h.Notifier())
	assert.NotNil(t, h.GetEventBroker())
}

func TestNewRejectsMissingDataDir(t *testing.T) {
	_, err := New(Config{VaultKeyBase64: testVaultKey()})
	assert.Error(t, err)
}

func TestNewRejectsMissingVaultKey(t *testing.T) {
	_, err := New(Config{DataDir: t.TempDir()})
	assert.Error(t, err)
}

func TestNewRejectsInvalidVaultKey(t *testing.T) {
	_, err := New(Config{DataDir: t.TempDir(), VaultKeyBase64: "not-valid-base64!!"})
	assert.Error(t, err)
}

func TestCreateServerPersistsAndPublishesRegisteredEvent(t *testing.T) {
	h := newTestHub(t)
	sub := h.GetEventBroker().Subscribe()
	defer h.GetEventBroker().Unsubscribe(sub)
	h.Start()

	server := &types.Server{ID: "srv-1", Hostname: "box1", GUID: "guid-1"}
	require.NoError(t, h.CreateServer(server))

	got, err := h.GetServer("srv-1")
	require.NoError(t, err)
	assert.Equal(t, "box1", got.Hostname)

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventServerRegistered, ev.Type)
		assert.Equal(t, "srv-1", ev.ServerID)
	case <-time.After(time.Second):
		t.Fatal("expected a server.registered event on the broker")
	}
}

func TestListServersReflectsStore(t *testing.T) {
	h := newTestHub(t)
	require.NoError(t, h.CreateServer(&types.Server{ID: "srv-1", Hostname: "box1", GUID: "guid-1"}))
	require.NoError(t, h.CreateServer(&types.Server{ID: "srv-2", Hostname: "box2", GUID: "guid-2"}))

	servers, err := h.ListServers()
	require.NoError(t, err)
	assert.Len(t, servers, 2)
}

func TestPutAndGetPackRoundTrips(t *testing.T) {
	h := newTestHub(t)
	pack := &types.Pack{Name: "base"}
	require.NoError(t, h.PutPack(pack))

	got, err := h.GetPack("base")
	require.NoError(t, err)
	assert.Equal(t, "base", got.Name)

	require.NoError(t, h.DeletePack("base"))
	_, err = h.GetPack("base")
	assert.Error(t, err)
}

func TestCheckServerConnectivityReturnsNotFoundForUnknownServer(t *testing.T) {
	h := newTestHub(t)
	_, err := h.CheckServerConnectivity(context.Background(), "nope")
	assert.Error(t, err)
}

func TestCheckServerConnectivityRejectsServerWithNoHostname(t *testing.T) {
	h := newTestHub(t)
	require.NoError(t, h.CreateServer(&types.Server{ID: "srv-1", GUID: "guid-1"}))

	_, err := h.CheckServerConnectivity(context.Background(), "srv-1")
	assert.Error(t, err)
}

func TestCheckServerConnectivityReportsUnreachableHost(t *testing.T) {
	h := newTestHub(t)
	require.NoError(t, h.CreateServer(&types.Server{ID: "srv-1", GUID: "guid-1", IPAddress: "127.0.0.1"}))

	result, err := h.CheckServerConnectivity(context.Background(), "srv-1")
	require.NoError(t, err)
	assert.False(t, result.Healthy, "nothing listens on port 22 in the test sandbox")
}

func TestShutdownStopsBackgroundLoopsWithoutPanicking(t *testing.T) {
	h, err := New(Config{
		DataDir:        t.TempDir(),
		VaultKeyBase64: testVaultKey(),
		Alerts:         types.DefaultAlertConfig(),
	})
	require.NoError(t, err)
	h.Start()
	assert.NotPanics(t, func() {
		require.NoError(t, h.Shutdown())
	})
}
