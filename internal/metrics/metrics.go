// Package metrics exposes Prometheus counters for the device workers and the
// session protocol. Labels never carry session ids or scanned codes.
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

var (
	// DeviceConnects counts successful serial opens, by device (scanner, arduino).
	DeviceConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fandomat_device_connects_total",
		Help: "Total number of successful serial link opens, by device.",
	}, []string{"device"})

	// DeviceErrors counts serial I/O failures that forced a reconnect.
	DeviceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fandomat_device_errors_total",
		Help: "Total number of serial I/O failures, by device and operation.",
	}, []string{"device", "op"})

	DeviceConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fandomat_device_connected",
		Help: "1 while the serial link of the device is open.",
	}, []string{"device"})

	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fandomat_scans_total",
		Help: "Total number of decoded scanner lines, by whether a session was active.",
	}, []string{"session"})

	ActuatorCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fandomat_actuator_commands_total",
		Help: "Total number of opcodes written to the actuator, by opcode.",
	}, []string{"opcode"})

	WSConnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fandomat_ws_connects_total",
		Help: "Total number of established session server connections.",
	})

	WSConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fandomat_ws_connected",
		Help: "1 while the session server connection is up.",
	})

	WSMessagesIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fandomat_ws_messages_in_total",
		Help: "Total number of inbound protocol messages, by type.",
	}, []string{"type"})

	WSMessagesOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fandomat_ws_messages_out_total",
		Help: "Total number of outbound protocol messages, by type.",
	}, []string{"type"})

	WSSendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fandomat_ws_send_errors_total",
		Help: "Total number of failed outbound sends.",
	})

	WSMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fandomat_ws_malformed_total",
		Help: "Total number of inbound frames that could not be decoded.",
	})

	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fandomat_sessions_started_total",
		Help: "Total number of sessions started by the server.",
	})

	// SessionsEnded counts session ends by reason (cancel, timeout).
	SessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fandomat_sessions_ended_total",
		Help: "Total number of sessions ended, by reason.",
	}, []string{"reason"})

	// BottlesAccepted counts accepted bottles by the opcode they were routed to.
	BottlesAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fandomat_bottles_accepted_total",
		Help: "Total number of accepted bottles, by actuator opcode.",
	}, []string{"opcode"})

	BottlesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fandomat_bottles_rejected_total",
		Help: "Total number of bottles the server reported as unknown.",
	})

	StaleResults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fandomat_stale_results_total",
		Help: "Total number of check results discarded because their session was no longer current.",
	})
)

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// SetDeviceConnected updates the connected gauge of device.
func SetDeviceConnected(device string, v bool) {
	DeviceConnected.WithLabelValues(device).Set(boolGauge(v))
}

func SetWSConnected(v bool) {
	WSConnected.Set(boolGauge(v))
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
