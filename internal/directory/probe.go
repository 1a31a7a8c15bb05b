package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Lumiport-Network/relay/internal/metrics"
	"go.uber.org/zap"
)

// newProbeClient builds the HTTP client used for reachability probes.
// Self-signed certificates are accepted: a probe answers "is this
// server up", not "do we trust its certificate".
func newProbeClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig:   &tls.Config{InsecureSkipVerify: true}, // #nosec G402 -- reachability probe only
			DisableKeepAlives: true,
		},
	}
}

// healthURL flips a relay's WebSocket scheme to its HTTP counterpart
// and appends the health path.
func healthURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		u.Scheme = "https"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/health"
	return u.String(), nil
}

// CheckHealth probes one server and classifies the outcome. Probe
// failures are recorded as a status, never returned as an error.
func (d *Directory) CheckHealth(ctx context.Context, serverURL string) HealthResult {
	result := HealthResult{Status: StatusError, CheckedAt: time.Now()}

	target, err := healthURL(serverURL)
	if err != nil {
		d.log.Debug("Unprobeable server URL", zap.String("url", serverURL), zap.Error(err))
		d.recordHealth(serverURL, result)
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		d.recordHealth(serverURL, result)
		return result
	}

	start := time.Now()
	resp, err := d.probeClient.Do(req)
	elapsed := time.Since(start)
	metrics.ProbeDuration.Observe(elapsed.Seconds())

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			result.Status = StatusTimeout
		} else {
			result.Status = StatusOffline
		}
		d.recordHealth(serverURL, result)
		return result
	}
	defer resp.Body.Close()

	result.Latency = &elapsed
	if resp.StatusCode == http.StatusOK {
		result.Status = StatusOnline
		result.Online = true
	} else {
		result.Status = StatusDegraded
	}
	d.recordHealth(serverURL, result)
	return result
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// recordHealth stores the latest result and publishes a transition
// event when the status changed.
func (d *Directory) recordHealth(serverURL string, result HealthResult) {
	d.mu.Lock()
	prev, had := d.health[serverURL]
	d.health[serverURL] = result
	d.mu.Unlock()

	gauge := 0.0
	if result.Online {
		gauge = 1.0
	}
	metrics.ServerHealth.WithLabelValues(serverURL).Set(gauge)

	if !had || prev.Status != result.Status {
		d.bus.Publish(eventForHealth(serverURL, result))
	}
}

// CheckAll probes every known server concurrently through the bounded
// worker pool and waits for the cycle to finish.
func (d *Directory) CheckAll(ctx context.Context) {
	servers := d.AllServers()

	done := make(chan struct{}, len(servers))
	submitted := 0
	for _, srv := range servers {
		srv := srv
		ok := d.pool.Submit(func() {
			probeCtx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
			defer cancel()
			d.CheckHealth(probeCtx, srv.URL)
			done <- struct{}{}
		})
		if ok {
			submitted++
		}
	}
	for i := 0; i < submitted; i++ {
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
}
