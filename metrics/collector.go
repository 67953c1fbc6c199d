package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pooledstream/psep"
)

// Collector wraps the package's Prometheus vectors with helper methods
// that pre-fill the processor label, implementing both
// workpackage.Instrumentation and coordinator.Instrumentation. It can
// also serve its own /metrics endpoint via ServeHTTP, for embedding
// applications that don't already run a Prometheus handler.
type Collector struct {
	processor string

	server  *http.Server
	errChan chan error
}

// NewCollector creates a Collector for the named processor.
func NewCollector(processor string) *Collector {
	return &Collector{processor: processor}
}

// ServeHTTP starts an HTTP server on addr exposing /metrics in the
// background and returns immediately. Check ServeErr to detect a
// failed startup. Calling it more than once replaces any previously
// started server without shutting it down first.
func (c *Collector) ServeHTTP(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	c.server = &http.Server{Addr: addr, Handler: mux}
	c.errChan = make(chan error, 1)
	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.errChan <- err
		}
	}()
}

// ServeErr returns a startup or serve error from ServeHTTP, if one
// occurred, without blocking.
func (c *Collector) ServeErr() error {
	select {
	case err := <-c.errChan:
		return err
	default:
		return nil
	}
}

// Shutdown gracefully stops the server started by ServeHTTP.
func (c *Collector) Shutdown(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// ObserveBatch records one work package batch's size and duration, and
// counts its events as handled.
func (c *Collector) ObserveBatch(segment psep.Segment, eventsHandled int, duration time.Duration) {
	BatchSize.WithLabelValues(c.processor).Observe(float64(eventsHandled))
	BatchDuration.WithLabelValues(c.processor).Observe(duration.Seconds())
	EventsHandledTotal.WithLabelValues(c.processor, "success").Add(float64(eventsHandled))
}

// ObserveAbort counts a work package abort by reason.
func (c *Collector) ObserveAbort(segment psep.Segment, reason string) {
	WorkPackagesAbortedTotal.WithLabelValues(c.processor, reason).Inc()
}

// SetClaimedSegments sets the claimed-segments gauge.
func (c *Collector) SetClaimedSegments(processor string, n int) {
	SegmentsClaimed.WithLabelValues(processor).Set(float64(n))
}

// ObserveControlTask counts a coordinator control task by kind and
// outcome.
func (c *Collector) ObserveControlTask(processor, kind string, ok bool) {
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	ControlTasksTotal.WithLabelValues(processor, kind, outcome).Inc()
}

// ObserveClaimExtensionFailure counts a failed claim extension attempt.
func (c *Collector) ObserveClaimExtensionFailure(processor string) {
	ClaimExtensionFailuresTotal.WithLabelValues(processor).Inc()
}
