// Package callback implements fire-and-forget outbound notification
// delivery on activation state changes (C10). Grounded on the
// teacher's pkg/webhook/config.WebhookConfig shape (URL plus optional
// client TLS material) and its net/http client construction with
// configurable proxy, but delivery here is asynchronous: handlers push
// a notification onto a bounded channel drained by a small worker
// pool, never blocking the RPC path and never rolling back a
// transition on delivery failure, per §5.
package callback

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/powerauth/activationserver/internal/metrics"
)

// Event is one outbound notification payload. Attributes is the full
// set of fields; each delivery narrows it to the attributes its
// CallbackURL selected (see filterForURL).
type Event struct {
	ApplicationID string
	ActivationID  string
	Attributes    map[string]any
}

// Notifier enqueues Events for asynchronous delivery.
type Notifier interface {
	// Notify enqueues event for delivery to every registered callback
	// URL for event.ApplicationID. It never blocks on network I/O and
	// never returns a delivery error — only a full queue is reported,
	// matching §5's "failure to deliver never rolls back state".
	Notify(ctx context.Context, event Event)
	// Close releases the notifier. Dispatcher's Close does nothing: it
	// neither stops Notify nor waits for in-flight deliveries;
	// cancelling the context passed to Run is what stops its workers.
	Close()
}

// URLLister resolves the callback URLs registered for an application;
// satisfied by store.Storage.ListCallbackURLs.
type URLLister interface {
	ListCallbackURLs(ctx context.Context, applicationID string) ([]CallbackURL, error)
}

// CallbackURL mirrors store.CallbackURL without importing the store
// package, keeping callback free of a persistence dependency beyond
// this narrow interface.
type CallbackURL struct {
	Name       string
	URL        string
	Attributes []string
}

// ProxyConfig configures an optional HTTP proxy for callback delivery,
// mirroring the teacher's cmd/dex/serve.go explicit-proxy-URL
// construction.
type ProxyConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Config configures a Dispatcher.
type Config struct {
	HTTPTimeout time.Duration
	Proxy       *ProxyConfig
	QueueSize   int
	Workers     int

	// TLSRootCAFile, ClientCert and ClientKey mirror the teacher's
	// WebhookConfig TLS fields; all optional.
	TLSRootCAFile string
	ClientCert    string
	ClientKey     string
}

type job struct {
	event Event
	urls  []CallbackURL
}

// Dispatcher is the default Notifier: a bounded channel drained by a
// fixed worker pool, each worker POSTing JSON to every registered
// callback URL for the event's application.
type Dispatcher struct {
	lister URLLister
	client *http.Client
	log    *slog.Logger
	metrics *metrics.Metrics // optional

	queue   chan job
	done    chan struct{}
	workers int
}

// WithMetrics attaches a metrics sink to record delivery outcomes.
func (d *Dispatcher) WithMetrics(m *metrics.Metrics) *Dispatcher {
	d.metrics = m
	return d
}

// New builds a Dispatcher. Workers are not started until Run is
// called, so the caller can wire it into an oklog/run.Group the same
// way cmd/dex/serve.go wires its listeners.
func New(lister URLLister, cfg Config, log *slog.Logger) (*Dispatcher, error) {
	transport, err := buildTransport(cfg)
	if err != nil {
		return nil, fmt.Errorf("callback: build transport: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	return &Dispatcher{
		lister:  lister,
		client:  &http.Client{Transport: transport, Timeout: cfg.HTTPTimeout},
		log:     log,
		queue:   make(chan job, cfg.QueueSize),
		done:    make(chan struct{}),
		workers: cfg.Workers,
	}, nil
}

func buildTransport(cfg Config) (*http.Transport, error) {
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}

	if cfg.Proxy != nil {
		proxyURL := &url.URL{
			Scheme: "http",
			Host:   fmt.Sprintf("%s:%d", cfg.Proxy.Host, cfg.Proxy.Port),
		}
		if cfg.Proxy.Username != "" {
			proxyURL.User = url.UserPassword(cfg.Proxy.Username, cfg.Proxy.Password)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	tlsConfig := &tls.Config{}
	if cfg.TLSRootCAFile != "" {
		pool := x509.NewCertPool()
		pem, err := os.ReadFile(cfg.TLSRootCAFile)
		if err != nil {
			return nil, fmt.Errorf("read tls root ca: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.TLSRootCAFile)
		}
		tlsConfig.RootCAs = pool
	}
	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client cert/key: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	transport.TLSClientConfig = tlsConfig
	return transport, nil
}

// Run drains the queue with cfg.Workers goroutines until ctx is
// cancelled, delivering each event to every URL registered for its
// application. Intended to be registered as one member of an
// oklog/run.Group alongside the gRPC and telemetry listeners.
func (d *Dispatcher) Run(ctx context.Context) error {
	workers := d.workers
	if workers <= 0 {
		workers = 1
	}
	worker := func() {
		for {
			select {
			case <-ctx.Done():
				return
			case j, ok := <-d.queue:
				if !ok {
					return
				}
				d.deliver(ctx, j)
			}
		}
	}
	finished := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		go func() {
			worker()
			finished <- struct{}{}
		}()
	}
	<-ctx.Done()
	close(d.queue)
	for i := 0; i < workers; i++ {
		<-finished
	}
	close(d.done)
	return nil
}

// Notify resolves the callback URLs for event.ApplicationID and
// enqueues one job; it never performs network I/O itself.
func (d *Dispatcher) Notify(ctx context.Context, event Event) {
	urls, err := d.lister.ListCallbackURLs(ctx, event.ApplicationID)
	if err != nil {
		d.log.Warn("callback: list callback urls failed", "application_id", event.ApplicationID, "error", err)
		return
	}
	if len(urls) == 0 {
		return
	}
	select {
	case d.queue <- job{event: event, urls: urls}:
	default:
		d.log.Warn("callback: queue full, dropping notification", "application_id", event.ApplicationID, "activation_id", event.ActivationID)
	}
}

// Close is a no-op placeholder kept to satisfy the Notifier interface
// when a caller does not separately manage Run's context; in
// cmd/activationserver, oklog/run's own cancellation drives shutdown.
func (d *Dispatcher) Close() {}

func (d *Dispatcher) deliver(ctx context.Context, j job) {
	payload := filterAttributes(j.event.Attributes)
	body, err := json.Marshal(payload)
	if err != nil {
		d.log.Error("callback: marshal payload failed", "error", err)
		return
	}

	for _, u := range j.urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.URL, bytes.NewReader(filterForURL(payload, u.Attributes, body)))
		if err != nil {
			d.log.Warn("callback: build request failed", "url", u.URL, "error", err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			d.log.Warn("callback: delivery failed", "url", u.URL, "activation_id", j.event.ActivationID, "error", err)
			d.observe("error")
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			d.log.Warn("callback: non-2xx response", "url", u.URL, "status", resp.StatusCode)
			d.observe("non_2xx")
			continue
		}
		d.observe("ok")
	}
}

func (d *Dispatcher) observe(outcome string) {
	if d.metrics != nil {
		d.metrics.ObserveCallback(outcome)
	}
}

func filterAttributes(all map[string]any) map[string]any {
	if all == nil {
		return map[string]any{}
	}
	return all
}

// filterForURL re-encodes payload restricted to attrs when the target
// URL named a subset; an empty attrs list means "send everything".
func filterForURL(payload map[string]any, attrs []string, fallback []byte) []byte {
	if len(attrs) == 0 {
		return fallback
	}
	filtered := make(map[string]any, len(attrs))
	for _, a := range attrs {
		if v, ok := payload[a]; ok {
			filtered[a] = v
		}
	}
	out, err := json.Marshal(filtered)
	if err != nil {
		return fallback
	}
	return out
}
