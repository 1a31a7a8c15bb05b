// Package directory maintains the lists of known relay servers, probes
// their health, and selects the best endpoint for a client.
package directory

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Lumiport-Network/relay/internal/config"
	apperrors "github.com/Lumiport-Network/relay/internal/errors"
	"github.com/Lumiport-Network/relay/internal/events"
	"github.com/Lumiport-Network/relay/internal/logger"
	"github.com/Lumiport-Network/relay/internal/store"
	"github.com/Lumiport-Network/relay/internal/workers"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// latencySentinel orders servers without a measured latency last.
const latencySentinel = time.Hour

// Directory owns three server lists: immutable built-in defaults, a
// best-effort fetched community list, and the operator's saved list.
// All access goes through its methods; the tables are never exposed.
type Directory struct {
	cfg         config.DirectoryConfig
	st          store.Store
	pool        *workers.Pool
	clk         clock.Clock
	bus         *events.Bus
	probeClient *http.Client
	fetchClient *http.Client
	log         *zap.Logger

	mu        sync.RWMutex
	defaults  []ServerDescriptor
	community []ServerDescriptor
	saved     []ServerDescriptor
	health    map[string]HealthResult
	preferred string

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Directory from configuration. Start must be called
// before the periodic probing begins.
func New(cfg config.DirectoryConfig, st store.Store, bus *events.Bus, clk clock.Clock) *Directory {
	defaults := make([]ServerDescriptor, 0, len(cfg.Defaults))
	for i, seed := range cfg.Defaults {
		kind := ServerKindFallback
		if i == 0 {
			kind = ServerKindPrimary
		}
		defaults = append(defaults, ServerDescriptor{
			Name:   seed.Name,
			URL:    seed.URL,
			Kind:   kind,
			Region: seed.Region,
		})
	}
	return &Directory{
		cfg:         cfg,
		st:          st,
		pool:        workers.NewPool(cfg.ProbeConcurrency, cfg.ProbeConcurrency*4),
		clk:         clk,
		bus:         bus,
		probeClient: newProbeClient(cfg.ProbeTimeout),
		fetchClient: &http.Client{Timeout: cfg.ProbeTimeout * 2},
		log:         logger.New("directory"),
		defaults:    defaults,
		health:      make(map[string]HealthResult),
		stopCh:      make(chan struct{}),
	}
}

// Start loads persisted state, probes everything once, kicks off the
// community refresh, and begins the periodic probe cycle. A community
// fetch failure never fails Start.
func (d *Directory) Start(ctx context.Context) error {
	if err := d.loadSaved(ctx); err != nil {
		return err
	}

	d.CheckAll(ctx)
	go d.refreshCommunity(ctx)
	go d.probeLoop(ctx)

	d.log.Info("Directory started",
		zap.Int("default_servers", len(d.defaults)),
		zap.Duration("probe_interval", d.cfg.ProbeInterval))
	return nil
}

// Stop ends the periodic probing.
func (d *Directory) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		d.pool.Stop()
	})
}

func (d *Directory) probeLoop(ctx context.Context) {
	ticker := d.clk.Ticker(d.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.CheckAll(ctx)
		}
	}
}

/* ------------------------------------------------------------------ *
|  List access                                                        |
* -------------------------------------------------------------------*/

// AllServers returns defaults, community, and saved entries in that
// order, each annotated with its last known health.
func (d *Directory) AllServers() []ServerDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]ServerDescriptor, 0, len(d.defaults)+len(d.community)+len(d.saved))
	for _, list := range [][]ServerDescriptor{d.defaults, d.community, d.saved} {
		for _, srv := range list {
			srv.Health = d.healthLocked(srv.URL)
			out = append(out, srv)
		}
	}
	return out
}

func (d *Directory) healthLocked(url string) HealthResult {
	if h, ok := d.health[url]; ok {
		return h
	}
	return HealthResult{Status: StatusUnknown}
}

// AddServer appends a server to the saved list. Duplicate URLs
// anywhere in the directory are rejected with a typed error.
func (d *Directory) AddServer(ctx context.Context, name, url, region string) error {
	d.mu.Lock()
	for _, list := range [][]ServerDescriptor{d.defaults, d.community, d.saved} {
		for _, srv := range list {
			if srv.URL == url {
				d.mu.Unlock()
				return apperrors.ServerExistsError(url)
			}
		}
	}
	d.saved = append(d.saved, ServerDescriptor{
		Name:   name,
		URL:    url,
		Kind:   ServerKindCustom,
		Region: region,
	})
	d.mu.Unlock()

	return d.persistSaved(ctx)
}

// RemoveServer deletes a server from the saved list only.
func (d *Directory) RemoveServer(ctx context.Context, url string) error {
	d.mu.Lock()
	kept := d.saved[:0]
	removed := false
	for _, srv := range d.saved {
		if srv.URL == url {
			removed = true
			continue
		}
		kept = append(kept, srv)
	}
	d.saved = kept
	if d.preferred == url {
		d.preferred = ""
	}
	d.mu.Unlock()

	if !removed {
		return nil
	}
	return d.persistSaved(ctx)
}

// SetPreferredServer marks one URL as always preferred when online.
func (d *Directory) SetPreferredServer(ctx context.Context, url string) error {
	d.mu.Lock()
	d.preferred = url
	d.mu.Unlock()

	if err := d.st.Set(ctx, store.KeyPreferredServer, []byte(url)); err != nil {
		return apperrors.StorageError("set preferred server", err)
	}
	return nil
}

/* ------------------------------------------------------------------ *
|  Selection                                                          |
* -------------------------------------------------------------------*/

// BestServer picks the endpoint a client should use. The explicitly
// preferred server wins while it is online; otherwise everything is
// probed and the lowest-latency online server is returned. The
// directory never returns no server at all: with nothing online the
// first built-in default is the last resort.
func (d *Directory) BestServer(ctx context.Context) ServerDescriptor {
	d.mu.RLock()
	preferred := d.preferred
	d.mu.RUnlock()

	if preferred != "" {
		if res := d.CheckHealth(ctx, preferred); res.Online {
			if srv, ok := d.lookup(preferred); ok {
				srv.Health = res
				return srv
			}
		}
	}

	d.CheckAll(ctx)

	servers := d.AllServers()
	online := servers[:0]
	for _, srv := range servers {
		if srv.Health.Online {
			online = append(online, srv)
		}
	}
	if len(online) > 0 {
		sort.SliceStable(online, func(i, j int) bool {
			return probeLatency(online[i]) < probeLatency(online[j])
		})
		return online[0]
	}

	d.log.Warn("No online servers, falling back to first built-in default")
	d.mu.RLock()
	defer d.mu.RUnlock()
	fallback := d.defaults[0]
	fallback.Health = d.healthLocked(fallback.URL)
	return fallback
}

func probeLatency(srv ServerDescriptor) time.Duration {
	if srv.Health.Latency == nil {
		return latencySentinel
	}
	return *srv.Health.Latency
}

func (d *Directory) lookup(url string) (ServerDescriptor, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, list := range [][]ServerDescriptor{d.defaults, d.community, d.saved} {
		for _, srv := range list {
			if srv.URL == url {
				return srv, true
			}
		}
	}
	return ServerDescriptor{}, false
}

/* ------------------------------------------------------------------ *
|  Community list & persistence                                       |
* -------------------------------------------------------------------*/

type communityEntry struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Region string `json:"region,omitempty"`
}

// refreshCommunity fetches the community server list. Failure leaves
// the previous list in place.
func (d *Directory) refreshCommunity(ctx context.Context) {
	if d.cfg.CommunityListURL == "" {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.CommunityListURL, nil)
	if err != nil {
		d.log.Warn("Community list request failed", zap.Error(err))
		return
	}
	resp, err := d.fetchClient.Do(req)
	if err != nil {
		d.log.Warn("Community list fetch failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		d.log.Warn("Community list fetch returned non-OK status",
			zap.Int("status", resp.StatusCode))
		return
	}

	var entries []communityEntry
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&entries); err != nil {
		d.log.Warn("Community list is malformed", zap.Error(err))
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	seen := make(map[string]struct{}, len(d.defaults)+len(d.saved))
	for _, list := range [][]ServerDescriptor{d.defaults, d.saved} {
		for _, srv := range list {
			seen[srv.URL] = struct{}{}
		}
	}

	community := make([]ServerDescriptor, 0, len(entries))
	for _, e := range entries {
		if e.URL == "" {
			continue
		}
		if _, dup := seen[e.URL]; dup {
			continue
		}
		seen[e.URL] = struct{}{}
		community = append(community, ServerDescriptor{
			Name:   e.Name,
			URL:    e.URL,
			Kind:   ServerKindCommunity,
			Region: e.Region,
		})
	}
	d.community = community
	d.log.Info("Community server list refreshed", zap.Int("servers", len(community)))
}

func (d *Directory) loadSaved(ctx context.Context) error {
	raw, ok, err := d.st.Get(ctx, store.KeySavedServers)
	if err != nil {
		return apperrors.StorageError("load saved servers", err)
	}
	if ok {
		var saved []ServerDescriptor
		if err := json.Unmarshal(raw, &saved); err != nil {
			d.log.Warn("Saved server list is corrupt, starting empty", zap.Error(err))
		} else {
			d.mu.Lock()
			d.saved = saved
			d.mu.Unlock()
		}
	}

	if raw, ok, err = d.st.Get(ctx, store.KeyPreferredServer); err == nil && ok {
		d.mu.Lock()
		d.preferred = string(raw)
		d.mu.Unlock()
	}
	return nil
}

func (d *Directory) persistSaved(ctx context.Context) error {
	d.mu.RLock()
	raw, err := json.Marshal(d.saved)
	d.mu.RUnlock()
	if err != nil {
		return apperrors.StorageError("encode saved servers", err)
	}
	if err := d.st.Set(ctx, store.KeySavedServers, raw); err != nil {
		return apperrors.StorageError("persist saved servers", err)
	}
	return nil
}

// eventForHealth builds the transition notification for one server.
func eventForHealth(url string, res HealthResult) events.Event {
	return events.Event{
		Kind:      events.ServerHealthChanged,
		ServerURL: url,
		Status:    string(res.Status),
	}
}
