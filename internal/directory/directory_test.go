package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Lumiport-Network/relay/internal/config"
	apperrors "github.com/Lumiport-Network/relay/internal/errors"
	"github.com/Lumiport-Network/relay/internal/events"
	"github.com/Lumiport-Network/relay/internal/store"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDirectory(t *testing.T, seeds []config.ServerSeed) *Directory {
	t.Helper()
	d := New(config.DirectoryConfig{
		ProbeInterval:    time.Minute,
		ProbeTimeout:     2 * time.Second,
		ProbeConcurrency: 4,
		Defaults:         seeds,
	}, store.NewMemory(), events.NewBus(), clock.New())
	t.Cleanup(d.Stop)
	return d
}

// healthEndpoint serves /health with the given status and an optional
// artificial delay.
func healthEndpoint(status int, delay time.Duration) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		if delay > 0 {
			time.Sleep(delay)
		}
		w.WriteHeader(status)
	}))
}

func TestCheckHealthClassification(t *testing.T) {
	online := healthEndpoint(http.StatusOK, 0)
	defer online.Close()
	degraded := healthEndpoint(http.StatusInternalServerError, 0)
	defer degraded.Close()

	d := testDirectory(t, []config.ServerSeed{{Name: "seed", URL: online.URL}})

	res := d.CheckHealth(context.Background(), online.URL)
	assert.Equal(t, StatusOnline, res.Status)
	assert.True(t, res.Online)
	require.NotNil(t, res.Latency)

	res = d.CheckHealth(context.Background(), degraded.URL)
	assert.Equal(t, StatusDegraded, res.Status)
	assert.False(t, res.Online)

	// A closed server is offline, not an error.
	closed := healthEndpoint(http.StatusOK, 0)
	closedURL := closed.URL
	closed.Close()
	res = d.CheckHealth(context.Background(), closedURL)
	assert.Equal(t, StatusOffline, res.Status)
	assert.False(t, res.Online)
}

func TestCheckHealthSchemeFlip(t *testing.T) {
	target, err := healthURL("ws://relay.example.com:8085")
	require.NoError(t, err)
	assert.Equal(t, "http://relay.example.com:8085/health", target)

	target, err = healthURL("wss://relay.example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://relay.example.com/health", target)
}

func TestBestServerPicksLowestLatency(t *testing.T) {
	fast := healthEndpoint(http.StatusOK, 10*time.Millisecond)
	defer fast.Close()
	slow := healthEndpoint(http.StatusOK, 120*time.Millisecond)
	defer slow.Close()
	offline := healthEndpoint(http.StatusOK, 0)
	offlineURL := offline.URL
	offline.Close()

	d := testDirectory(t, []config.ServerSeed{
		{Name: "slow", URL: slow.URL},
		{Name: "fast", URL: fast.URL},
		{Name: "offline", URL: offlineURL},
	})

	best := d.BestServer(context.Background())
	assert.Equal(t, fast.URL, best.URL)
	assert.True(t, best.Health.Online)
}

func TestBestServerFallsBackToFirstDefault(t *testing.T) {
	down := healthEndpoint(http.StatusOK, 0)
	downURL := down.URL
	down.Close()

	d := testDirectory(t, []config.ServerSeed{
		{Name: "primary", URL: downURL},
	})

	best := d.BestServer(context.Background())
	assert.Equal(t, downURL, best.URL)
	assert.False(t, best.Health.Online)
}

func TestAddServerIdempotence(t *testing.T) {
	d := testDirectory(t, []config.ServerSeed{
		{Name: "seed", URL: "wss://seed.example.com"},
	})
	ctx := context.Background()

	require.NoError(t, d.AddServer(ctx, "mine", "wss://mine.example.com", "eu"))

	err := d.AddServer(ctx, "mine", "wss://mine.example.com", "eu")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfig))

	saved := 0
	for _, srv := range d.AllServers() {
		if srv.URL == "wss://mine.example.com" {
			saved++
		}
	}
	assert.Equal(t, 1, saved)
}

func TestAddServerRejectsDefaultDuplicate(t *testing.T) {
	d := testDirectory(t, []config.ServerSeed{
		{Name: "seed", URL: "wss://seed.example.com"},
	})

	err := d.AddServer(context.Background(), "dup", "wss://seed.example.com", "")
	require.Error(t, err)
}

func TestRemoveServerClearsPreferred(t *testing.T) {
	d := testDirectory(t, []config.ServerSeed{
		{Name: "seed", URL: "wss://seed.example.com"},
	})
	ctx := context.Background()

	require.NoError(t, d.AddServer(ctx, "mine", "wss://mine.example.com", ""))
	require.NoError(t, d.SetPreferredServer(ctx, "wss://mine.example.com"))
	require.NoError(t, d.RemoveServer(ctx, "wss://mine.example.com"))

	for _, srv := range d.AllServers() {
		assert.NotEqual(t, "wss://mine.example.com", srv.URL)
	}
}

func TestHealthTransitionPublishesEvent(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe("test")
	defer bus.Unsubscribe("test")

	srv := healthEndpoint(http.StatusOK, 0)
	defer srv.Close()

	d := New(config.DirectoryConfig{
		ProbeInterval:    time.Minute,
		ProbeTimeout:     2 * time.Second,
		ProbeConcurrency: 2,
		Defaults:         []config.ServerSeed{{Name: "seed", URL: srv.URL}},
	}, store.NewMemory(), bus, clock.New())
	defer d.Stop()

	d.CheckHealth(context.Background(), srv.URL)

	select {
	case evt := <-ch:
		assert.Equal(t, events.ServerHealthChanged, evt.Kind)
		assert.Equal(t, srv.URL, evt.ServerURL)
		assert.Equal(t, string(StatusOnline), evt.Status)
	case <-time.After(time.Second):
		t.Fatal("expected a health transition event")
	}

	// Same status again: no second event.
	d.CheckHealth(context.Background(), srv.URL)
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event %v", evt.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSavedServersPersistAcrossRestart(t *testing.T) {
	st := store.NewMemory()
	bus := events.NewBus()
	cfg := config.DirectoryConfig{
		ProbeInterval:    time.Minute,
		ProbeTimeout:     time.Second,
		ProbeConcurrency: 2,
		Defaults:         []config.ServerSeed{{Name: "seed", URL: "wss://seed.example.com"}},
	}
	ctx := context.Background()

	d1 := New(cfg, st, bus, clock.New())
	require.NoError(t, d1.AddServer(ctx, "mine", "wss://mine.example.com", "eu"))
	d1.Stop()

	d2 := New(cfg, st, bus, clock.New())
	defer d2.Stop()
	require.NoError(t, d2.loadSaved(ctx))

	found := false
	for _, srv := range d2.AllServers() {
		if srv.URL == "wss://mine.example.com" {
			found = true
			assert.Equal(t, ServerKindCustom, srv.Kind)
		}
	}
	assert.True(t, found)
}
