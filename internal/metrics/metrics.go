// Package metrics defines the Prometheus metrics for garpd (spec C9).
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "garpd"

var (
	// FramesSent counts gratuitous ARP frames transmitted by the Announcer.
	FramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_sent_total",
		Help:      "Total gratuitous ARP frames transmitted.",
	})

	// FramesReceived counts ARP frames observed by the Watcher, by classification.
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_received_total",
		Help:      "Total ARP frames observed by the watcher, by classification.",
	}, []string{"classification"})

	// ConflictsDetected counts gratuitous announcements seen from a foreign MAC.
	ConflictsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conflicts_total",
		Help:      "Total conflicting gratuitous ARP announcements observed.",
	})

	// ManagedAddress reports whether this process currently holds the VIP.
	ManagedAddress = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "managed_address",
		Help:      "1 if this process is responsible for removing the managed address on exit, 0 otherwise.",
	})
)

// Classification labels for FramesReceived.
const (
	ClassOurs          = "ours"
	ClassUnknownOpcode = "unknown_opcode"
	ClassNonGratuitous = "non_gratuitous"
	ClassGratuitous    = "gratuitous_foreign"
)

// Serve starts an HTTP server exposing /metrics on addr and blocks until
// ctx is cancelled. A non-nil, non-shutdown error is returned to the
// caller; shutdown errors are swallowed since they indicate a clean exit.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	}
}
