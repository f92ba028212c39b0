package connectivity

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Prober periodically checks that the provider host answers HTTP and feeds
// the result into a Monitor. Any HTTP response counts as reachable; only
// transport failures count as offline.
type Prober struct {
	monitor  *Monitor
	url      string
	interval time.Duration
	timeout  time.Duration
	client   *http.Client
	logger   *zap.Logger
}

// NewProber creates a Prober. interval and timeout fall back to 15s and 3s.
func NewProber(monitor *Monitor, url string, interval, timeout time.Duration, logger *zap.Logger) *Prober {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		monitor:  monitor,
		url:      url,
		interval: interval,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Probe runs one reachability check and updates the monitor. A check cut
// short by cancellation of ctx leaves the monitor unchanged.
func (p *Prober) Probe(parent context.Context) bool {
	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()

	online := false
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err == nil {
		resp, doErr := p.client.Do(req)
		if doErr == nil {
			resp.Body.Close()
			online = true
		} else {
			err = doErr
		}
	}

	if !online && parent.Err() != nil {
		return p.monitor.Online()
	}
	if p.monitor.Set(online) {
		if online {
			p.logger.Info("provider reachable again", zap.String("url", p.url))
		} else {
			p.logger.Warn("provider unreachable, switching to offline mode", zap.String("url", p.url), zap.Error(err))
		}
	}
	return online
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	p.Probe(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
