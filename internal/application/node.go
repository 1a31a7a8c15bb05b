// Package application assembles the relay node: storage, identity,
// directory, access control, trust, and the session engine.
package application

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Lumiport-Network/relay/internal/access"
	"github.com/Lumiport-Network/relay/internal/addr"
	"github.com/Lumiport-Network/relay/internal/config"
	"github.com/Lumiport-Network/relay/internal/directory"
	apperrors "github.com/Lumiport-Network/relay/internal/errors"
	"github.com/Lumiport-Network/relay/internal/events"
	"github.com/Lumiport-Network/relay/internal/identity"
	"github.com/Lumiport-Network/relay/internal/limiter"
	"github.com/Lumiport-Network/relay/internal/logger"
	"github.com/Lumiport-Network/relay/internal/metrics"
	"github.com/Lumiport-Network/relay/internal/relay"
	"github.com/Lumiport-Network/relay/internal/store"
	"github.com/Lumiport-Network/relay/internal/trust"
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Auth limiter window and ban span for repeated credential failures.
const (
	authFailureWindow = 5 * time.Minute
	authFailureBan    = 15 * time.Minute
)

// Node is the running relay instance. The application shell drives it
// through Start/Stop and the query surfaces it exposes.
type Node struct {
	cfg *config.Config
	clk clock.Clock
	log *zap.Logger

	st         store.Store
	instanceID identity.InstanceID
	bus        *events.Bus
	parser     *addr.Parser
	resolver   *addr.Resolver
	dir        *directory.Directory
	accessCtl  *access.Controller
	authLim    *limiter.AuthLimiter
	reporter   *trust.Reporter
	profiles   *trust.Profiles
	hub        *relay.Hub
	server     *relay.Server

	startTime time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewNode wires every component together but starts nothing.
func NewNode(ctx context.Context, cfg *config.Config) (*Node, error) {
	clk := clock.New()
	log := logger.New("node")

	st, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	instanceID, err := identity.LoadOrCreate(ctx, st)
	if err != nil {
		return nil, apperrors.StorageError("load instance identity", err)
	}

	bus := events.NewBus()
	dir := directory.New(cfg.Directory, st, bus, clk)

	parser := addr.NewParser(cfg.Resolver.ENSTLDs, cfg.Resolver.UnstoppableTLDs)
	resolver := addr.NewResolver(&http.Client{Timeout: cfg.Resolver.Timeout}, addr.ResolverOptions{
		DoHEndpoint:     cfg.Resolver.DoHEndpoint,
		RegistryAPIBase: cfg.Resolver.RegistryAPIBase,
		RecordKey:       cfg.Resolver.RecordKey,
		GatewaySuffix:   cfg.Resolver.GatewaySuffix,
		CacheSize:       cfg.Resolver.CacheSize,
		CacheTTL:        cfg.Resolver.CacheTTL,
	})

	accessCtl, err := access.NewController(ctx, st, clk, cfg.Relay.Name, access.Config{
		Mode:      access.Mode(cfg.Access.Mode),
		PinCode:   cfg.Access.PinCode,
		AllowList: cfg.Access.AllowList,
		DenyList:  cfg.Access.DenyList,
	})
	if err != nil {
		return nil, err
	}

	authLim := limiter.NewAuthLimiter(clk, authFailureWindow, cfg.Access.FailedAuthLimit, authFailureBan)
	reporter := trust.NewReporter(cfg.Trust, bus, clk, string(instanceID))
	profiles := trust.NewProfiles(st)
	hub := relay.NewHub(cfg.Relay, accessCtl, authLim, bus, clk)

	n := &Node{
		cfg:        cfg,
		clk:        clk,
		log:        log,
		st:         st,
		instanceID: instanceID,
		bus:        bus,
		parser:     parser,
		resolver:   resolver,
		dir:        dir,
		accessCtl:  accessCtl,
		authLim:    authLim,
		reporter:   reporter,
		profiles:   profiles,
		hub:        hub,
		server:     relay.NewServer(cfg.Relay, hub),
		startTime:  clk.Now(),
	}

	log.Info("Node assembled",
		zap.String("instance_id", string(instanceID)),
		zap.String("access_mode", string(accessCtl.Mode())),
		zap.String("storage_backend", cfg.Storage.Backend))
	return n, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Backend {
	case "memory":
		return store.NewMemory(), nil
	case "file":
		return store.NewFile(cfg.Path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, apperrors.ConfigurationError("storage.backend",
			fmt.Sprintf("unknown backend %q", cfg.Backend))
	}
}

// Start brings the node up: directory probing, the relay listener, and
// the metrics endpoint when enabled. It returns once everything is
// running.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.running = true
	n.mu.Unlock()

	metrics.RegisterMetrics()

	if err := n.dir.Start(runCtx); err != nil {
		return err
	}
	if n.cfg.Metrics.Enabled {
		go n.serveMetrics(runCtx)
	}
	go n.watchEvents(runCtx)
	go n.serveRelay(runCtx)

	if n.accessCtl.PublicWarningPending() {
		n.log.Warn("Relay is in PUBLIC access mode: any client may connect without credentials")
		if err := n.accessCtl.MarkPublicWarningShown(runCtx); err != nil {
			n.log.Error("Failed to persist public warning flag", zap.Error(err))
		}
	}

	n.bus.Publish(events.Event{Kind: events.RelayStarted})
	return nil
}

func (n *Node) serveRelay(ctx context.Context) {
	if err := n.server.ListenAndServe(ctx, n.cfg.Relay.ListenAddr); err != nil {
		n.log.Error("Relay server exited with error", zap.Error(err))
	}
}

func (n *Node) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", n.cfg.Metrics.Port),
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	n.log.Info("Metrics endpoint listening", zap.Int("port", n.cfg.Metrics.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		n.log.Error("Metrics server exited with error", zap.Error(err))
	}
}

// watchEvents surfaces operational notifications in the node log.
func (n *Node) watchEvents(ctx context.Context) {
	ch := n.bus.Subscribe("node")
	defer n.bus.Unsubscribe("node")

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			switch evt.Kind {
			case events.AdminAlert:
				n.log.Warn("Administrative alert",
					zap.String("host", evt.Host),
					zap.Int("report_count", evt.Count),
					zap.String("message", evt.Message))
			case events.HostBanned:
				n.log.Warn("Host banned by trust registry",
					zap.String("host", evt.Host),
					zap.Int("report_count", evt.Count))
			case events.ServerHealthChanged:
				n.log.Info("Server health changed",
					zap.String("server_url", evt.ServerURL),
					zap.String("status", evt.Status))
			}
		}
	}
}

// Stop shuts the node down in reverse start order.
func (n *Node) Stop() {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	n.running = false
	cancel := n.cancel
	n.mu.Unlock()

	n.bus.Publish(events.Event{Kind: events.RelayStopped})
	cancel()
	n.dir.Stop()
	n.bus.Close()
	if err := n.st.Close(); err != nil {
		n.log.Error("Store close failed", zap.Error(err))
	}
	n.log.Info("Node stopped")
}

/* ------------------------------------------------------------------ *
|  Control surface                                                    |
* -------------------------------------------------------------------*/

// Status is the snapshot handed to the application shell.
type Status struct {
	InstanceID  string        `json:"instance_id"`
	Running     bool          `json:"running"`
	AccessMode  string        `json:"access_mode"`
	Connections int           `json:"connections"`
	Sessions    int           `json:"sessions"`
	Uptime      time.Duration `json:"uptime"`
}

// GetStatus reports the node's current state.
func (n *Node) GetStatus() Status {
	n.mu.Lock()
	running := n.running
	n.mu.Unlock()

	return Status{
		InstanceID:  string(n.instanceID),
		Running:     running,
		AccessMode:  string(n.accessCtl.Mode()),
		Connections: n.hub.ConnectionCount(),
		Sessions:    n.hub.SessionCount(),
		Uptime:      n.clk.Since(n.startTime),
	}
}

// GetConfig returns the loaded configuration.
func (n *Node) GetConfig() *config.Config { return n.cfg }

// Directory exposes the server directory query surface.
func (n *Node) Directory() *directory.Directory { return n.dir }

// Access exposes the access controller for operator actions.
func (n *Node) Access() *access.Controller { return n.accessCtl }

// Trust exposes the report and ban-status surface.
func (n *Node) Trust() *trust.Reporter { return n.reporter }

// Profiles exposes the host's persisted verification profile.
func (n *Node) Profiles() *trust.Profiles { return n.profiles }

// ConfigureOptions is the runtime-mutable subset of the node
// configuration. Nil fields leave the current value untouched.
type ConfigureOptions struct {
	// AccessMode switches the access mode; pin and password modes take
	// their credential from PinCode / Password. Two-factor mode is
	// enabled through Access().Enable2FA because it hands back a
	// provisioning secret.
	AccessMode *string
	PinCode    *string
	Password   *string
	AllowList  []string
	DenyList   []string

	// ConnectionPin turns the independent connection PIN on;
	// DisableConnectionPin turns it off.
	ConnectionPin        *access.ConnectionPin
	DisableConnectionPin bool

	PreferredServer *string
	LinkDomains     []string
}

// Configure applies runtime-mutable options through the owning
// components. Applied settings persist through the store; a failed
// option aborts without rolling back the ones already applied.
func (n *Node) Configure(ctx context.Context, opts ConfigureOptions) error {
	if opts.AccessMode != nil {
		if err := n.applyAccessMode(ctx, opts); err != nil {
			return err
		}
	}
	if opts.AllowList != nil {
		if err := n.accessCtl.SetAllowList(ctx, opts.AllowList); err != nil {
			return err
		}
	}
	if opts.DenyList != nil {
		if err := n.accessCtl.SetDenyList(ctx, opts.DenyList); err != nil {
			return err
		}
	}

	switch {
	case opts.ConnectionPin != nil:
		if err := n.accessCtl.RequireConnectionPin(ctx, opts.ConnectionPin); err != nil {
			return err
		}
	case opts.DisableConnectionPin:
		if err := n.accessCtl.RequireConnectionPin(ctx, nil); err != nil {
			return err
		}
	}

	if opts.PreferredServer != nil {
		if err := n.dir.SetPreferredServer(ctx, *opts.PreferredServer); err != nil {
			return err
		}
	}
	if opts.LinkDomains != nil {
		n.hub.SetLinkDomains(opts.LinkDomains)
	}

	n.log.Info("Node reconfigured", zap.String("access_mode", string(n.accessCtl.Mode())))
	return nil
}

func (n *Node) applyAccessMode(ctx context.Context, opts ConfigureOptions) error {
	switch access.Mode(*opts.AccessMode) {
	case access.ModePublic:
		return n.accessCtl.SetPublic(ctx)
	case access.ModeWhitelist:
		return n.accessCtl.SetPrivate(ctx)
	case access.ModePin:
		if opts.PinCode == nil {
			return apperrors.ConfigurationError("access.pin_code", "pin mode requires a PIN")
		}
		return n.accessCtl.SetPinCode(ctx, *opts.PinCode)
	case access.ModePassword:
		if opts.Password == nil {
			return apperrors.ConfigurationError("access.password", "password mode requires a password")
		}
		return n.accessCtl.SetPassword(ctx, *opts.Password)
	case access.ModeTwoFactor:
		return apperrors.ConfigurationError("access.mode", "two-factor mode is enabled through Enable2FA")
	default:
		return apperrors.ConfigurationError("access.mode", fmt.Sprintf("unknown access mode %q", *opts.AccessMode))
	}
}

// Events exposes the notification bus for shell subscribers.
func (n *Node) Events() *events.Bus { return n.bus }

// ResolveAddress parses a user-entered address and resolves web3
// domains to a relay endpoint.
func (n *Node) ResolveAddress(ctx context.Context, raw string) (addr.ParseResult, string, error) {
	parsed := n.parser.Parse(raw)
	endpoint, err := n.resolver.Resolve(ctx, parsed.Host, parsed.Kind)
	return parsed, endpoint, err
}
