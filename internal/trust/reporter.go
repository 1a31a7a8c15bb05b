package trust

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Lumiport-Network/relay/internal/config"
	apperrors "github.com/Lumiport-Network/relay/internal/errors"
	"github.com/Lumiport-Network/relay/internal/events"
	"github.com/Lumiport-Network/relay/internal/logger"
	"github.com/Lumiport-Network/relay/internal/metrics"
	"github.com/benbjohnson/clock"
	"github.com/willf/bloom"
	"go.uber.org/zap"
)

// dedup filter sizing: ~10k reported hosts at 1% false positives.
const (
	bloomN = 10000
	bloomP = 0.01
)

// Reporter submits abuse reports to the community registry and reads
// back ban state. Registry outages degrade gracefully: reads return
// zero values with a typed error, never block the caller's flow.
type Reporter struct {
	cfg        config.TrustConfig
	client     *http.Client
	bus        *events.Bus
	clk        clock.Clock
	reporterID string
	log        *zap.Logger

	mu       sync.Mutex
	reported *bloom.BloomFilter
}

// NewReporter builds a Reporter identified by this instance's ID.
func NewReporter(cfg config.TrustConfig, bus *events.Bus, clk clock.Clock, reporterID string) *Reporter {
	return &Reporter{
		cfg:        cfg,
		client:     &http.Client{Timeout: cfg.Timeout},
		bus:        bus,
		clk:        clk,
		reporterID: reporterID,
		log:        logger.New("trust"),
		reported:   bloom.NewWithEstimates(bloomN, bloomP),
	}
}

type reportRequest struct {
	Host       string    `json:"host"`
	ReporterID string    `json:"reporter_id"`
	Reason     string    `json:"reason"`
	ReportedAt time.Time `json:"reported_at"`
}

type reportResponse struct {
	ReportCount  int        `json:"report_count"`
	Banned       bool       `json:"banned"`
	BanExpiresAt *time.Time `json:"ban_expires_at,omitempty"`
}

// ReportOutcome is what a submitted report came back with.
type ReportOutcome struct {
	ReportCount  int
	Banned       bool
	BanExpiresAt *time.Time
	Duplicate    bool
}

// ReportHost submits one abuse report. A host this instance already
// reported is dropped locally without touching the registry.
func (r *Reporter) ReportHost(ctx context.Context, host, reason string) (*ReportOutcome, error) {
	if host == "" {
		return nil, apperrors.ConfigurationError("host", "report target must not be empty")
	}

	r.mu.Lock()
	if r.reported.TestString(host) {
		r.mu.Unlock()
		r.log.Debug("Duplicate report suppressed", zap.String("host", host))
		return &ReportOutcome{Duplicate: true}, nil
	}
	r.reported.AddString(host)
	r.mu.Unlock()

	body, err := json.Marshal(reportRequest{
		Host:       host,
		ReporterID: r.reporterID,
		Reason:     reason,
		ReportedAt: r.clk.Now().UTC(),
	})
	if err != nil {
		return nil, apperrors.InternalError("encode report", err)
	}

	endpoint := r.cfg.RegistryURL + "/reports"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.InternalError("build report request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, apperrors.RegistryUnavailableError("submit report", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, apperrors.RegistryUnavailableError("submit report",
			fmt.Errorf("registry returned status %d", resp.StatusCode))
	}

	var reply reportResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&reply); err != nil {
		return nil, apperrors.InvalidResponseError(endpoint, err)
	}

	metrics.ReportsSubmitted.Inc()
	r.log.Info("Host reported",
		zap.String("host", host),
		zap.Int("report_count", reply.ReportCount),
		zap.Bool("banned", reply.Banned))

	r.bus.Publish(events.Event{
		Kind:  events.HostReported,
		Host:  host,
		Count: reply.ReportCount,
	})
	if reply.ReportCount >= r.cfg.ReportThreshold {
		r.bus.Publish(events.Event{
			Kind:    events.AdminAlert,
			Host:    host,
			Count:   reply.ReportCount,
			Message: fmt.Sprintf("host %s reached %d abuse reports", host, reply.ReportCount),
		})
	}
	if reply.Banned {
		r.bus.Publish(events.Event{
			Kind:  events.HostBanned,
			Host:  host,
			Count: reply.ReportCount,
		})
	}

	return &ReportOutcome{
		ReportCount:  reply.ReportCount,
		Banned:       reply.Banned,
		BanExpiresAt: reply.BanExpiresAt,
	}, nil
}

// BanStatus is the registry's current view of one host.
type BanStatus struct {
	Banned       bool       `json:"banned"`
	ReportCount  int        `json:"report_count"`
	BanExpiresAt *time.Time `json:"ban_expires_at,omitempty"`
}

// CheckHostBanStatus asks the registry whether a host is banned. On
// registry failure the host is treated as not banned so a registry
// outage never locks anyone out.
func (r *Reporter) CheckHostBanStatus(ctx context.Context, host string) (BanStatus, error) {
	endpoint := r.cfg.RegistryURL + "/hosts/status?url=" + url.QueryEscape(host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return BanStatus{}, apperrors.InternalError("build status request", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return BanStatus{}, apperrors.RegistryUnavailableError("check ban status", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return BanStatus{}, nil
	default:
		return BanStatus{}, apperrors.RegistryUnavailableError("check ban status",
			fmt.Errorf("registry returned status %d", resp.StatusCode))
	}

	var status BanStatus
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&status); err != nil {
		return BanStatus{}, apperrors.InvalidResponseError(endpoint, err)
	}

	if status.Banned && status.BanExpiresAt != nil && r.clk.Now().After(*status.BanExpiresAt) {
		status.Banned = false
	}
	return status, nil
}

// GetHostReportCount returns how many reports the registry holds for a
// host, zero when the registry is unreachable.
func (r *Reporter) GetHostReportCount(ctx context.Context, host string) (int, error) {
	status, err := r.CheckHostBanStatus(ctx, host)
	if err != nil {
		return 0, err
	}
	return status.ReportCount, nil
}
