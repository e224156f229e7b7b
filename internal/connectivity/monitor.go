// Package connectivity tracks whether the kiosk has a working network path.
//
// The Monitor issues a lightweight HTTP probe on a fixed interval and folds
// the outcomes into a single boolean. The flag starts true and ambiguous
// probe failures keep it true: a false "offline" screen on a working kiosk
// is worse than a broken page behind a real outage.
package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// Status is the outcome of a single connectivity probe.
type Status struct {
	Online    bool
	CheckedAt time.Time
	Latency   time.Duration
	Err       string // probe error, if any (set for offline and fail-open outcomes)
}

// Watcher is the read side of the monitor, as consumed by the shell.
type Watcher interface {
	Online() bool
	Subscribe() (<-chan Status, func())
	ForceProbe(ctx context.Context) Status
}

// Monitor probes a URL periodically and notifies subscribers on changes.
type Monitor struct {
	probeURL string
	interval time.Duration
	timeout  time.Duration
	client   *http.Client
	logger   *slog.Logger

	mu      sync.Mutex
	online  bool
	probed  bool // at least one probe completed
	subs    map[int]chan Status
	nextSub int

	stop chan struct{}
	done chan struct{}
}

// New creates a monitor. The online flag defaults to true until the first
// probe completes.
func New(probeURL string, interval, timeout time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		probeURL: probeURL,
		interval: interval,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
		online:   true,
		subs:     make(map[int]chan Status),
	}
}

// Online returns the most recent connectivity verdict.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers for status updates. Updates are delivered when the
// verdict changes and for every forced probe. Call the returned cancel
// function to unsubscribe and close the channel.
func (m *Monitor) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 16)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			// Closing under the lock keeps record() from writing to a
			// closed channel.
			m.mu.Lock()
			delete(m.subs, id)
			close(ch)
			m.mu.Unlock()
		})
	}
	return ch, cancel
}

// Start launches the probe loop. Call Stop to shut it down.
func (m *Monitor) Start() {
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop()
}

// Stop shuts down the probe loop.
func (m *Monitor) Stop() {
	if m.stop != nil {
		close(m.stop)
		<-m.done
		m.stop = nil
		m.done = nil
	}
}

func (m *Monitor) loop() {
	defer close(m.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-m.stop
		cancel()
	}()

	// Probe immediately so the first verdict does not wait a full interval.
	m.record(m.probe(ctx), false)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.record(m.probe(ctx), false)
		}
	}
}

// ForceProbe runs a probe right now (used by the offline screen's retry
// action) and delivers the result to all subscribers.
func (m *Monitor) ForceProbe(ctx context.Context) Status {
	return m.record(m.probe(ctx), true)
}

func (m *Monitor) probe(ctx context.Context) Status {
	start := time.Now()
	st := Status{CheckedAt: start}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		// Misconfigured probe URL is not evidence of an outage.
		st.Online = true
		st.Err = err.Error()
		return st
	}

	resp, err := m.client.Do(req)
	st.Latency = time.Since(start)
	if err != nil {
		st.Err = err.Error()
		// Only clear network failures flip the kiosk offline; anything
		// ambiguous is coerced to online.
		st.Online = !isNetworkError(err)
		return st
	}
	resp.Body.Close()
	// Any HTTP response at all means the network path works.
	st.Online = true
	return st
}

// isNetworkError reports whether err indicates an unreachable network rather
// than some local or ambiguous failure.
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// record updates the verdict and fans the status out to subscribers when it
// changed (or when forced).
func (m *Monitor) record(st Status, forced bool) Status {
	m.mu.Lock()
	changed := !m.probed || m.online != st.Online
	m.online = st.Online
	m.probed = true
	if changed || forced {
		for _, ch := range m.subs {
			select {
			case ch <- st:
			default:
				// Drop the update if the subscriber is not keeping up.
			}
		}
	}
	m.mu.Unlock()

	if changed {
		m.logger.Info("connectivity: verdict changed",
			"online", st.Online, "latency", st.Latency, "err", st.Err)
	}
	return st
}
