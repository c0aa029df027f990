// Package api exposes the load-test engine over HTTP: run control, status
// polling, latency stats, Prometheus metrics and a websocket status stream.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kafkaburst/internal/engine"
	"kafkaburst/internal/metrics"
)

const appName = "kafkaburst"

// Broker reports broker connectivity for the health endpoint and start
// pre-checks.
type Broker interface {
	Connected() bool
}

// StatsSource exposes the current run's latency statistics.
type StatsSource interface {
	LatencyStats() metrics.Stats
}

// Defaults applied to start requests that omit optional fields.
const (
	defaultMessageCount = 1000
	defaultMessageRate  = 100
	defaultPayloadSize  = 1024
)

// Router wires HTTP endpoints to the engine.
type Router struct {
	mux    *http.ServeMux
	logger *slog.Logger

	eng      *engine.Engine
	broker   Broker
	stats    StatsSource
	gatherer prometheus.Gatherer
	hub      *Hub
	upgrader websocket.Upgrader

	defaultTopic string
	version      string
	unsubscribe  func()
}

// NewRouter assembles routes with dependencies. The returned router owns a
// hub subscription on the engine; Close releases it.
func NewRouter(logger *slog.Logger, eng *engine.Engine, broker Broker, stats StatsSource, gatherer prometheus.Gatherer, defaultTopic, version string) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger.With("component", "api"),
		eng:      eng,
		broker:   broker,
		stats:    stats,
		gatherer: gatherer,
		hub:      NewHub(logger),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		defaultTopic: defaultTopic,
		version:      version,
	}
	r.unsubscribe = eng.Subscribe(r.hub)
	r.register()
	return r
}

func (r *Router) register() {
	r.mux.HandleFunc("/health", r.handleHealth)
	r.mux.HandleFunc("/api/start", r.handleStart)
	r.mux.HandleFunc("/api/stop", r.handleStop)
	r.mux.HandleFunc("/api/status", r.handleStatus)
	r.mux.HandleFunc("/api/stats", r.handleStats)
	r.mux.HandleFunc("/ws/status", r.handleStatusWS)
	r.mux.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
}

// ServeHTTP delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close detaches from the engine and disconnects streaming clients.
func (r *Router) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
	r.hub.Close()
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	connected := r.broker.Connected()
	status := "ok"
	code := http.StatusOK
	if !connected {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":          status,
		"kafka_connected": connected,
		"app_name":        appName,
		"version":         r.version,
	})
}

func (r *Router) handleStart(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload engine.RunConfig
	if req.Body != nil && req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	applyStartDefaults(&payload, r.defaultTopic)

	if !r.broker.Connected() {
		writeError(w, http.StatusServiceUnavailable, "kafka broker is not reachable")
		return
	}

	testID, err := r.eng.StartRun(payload)
	if err != nil {
		var verr *engine.ValidationError
		switch {
		case errors.Is(err, engine.ErrAlreadyRunning):
			writeError(w, http.StatusConflict, err.Error())
		case errors.As(err, &verr):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":   "invalid run config",
				"details": verr.Issues(),
			})
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "started",
		"test_id": testID,
	})
}

func (r *Router) handleStop(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if err := r.eng.StopRun(); err != nil {
		if errors.Is(err, engine.ErrNoActiveRun) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, r.eng.GetStatus())
}

func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, r.stats.LatencyStats())
}

// handleStatusWS upgrades the connection, sends the current snapshot right
// away and then streams whatever the engine's aggregator publishes.
func (r *Router) handleStatusWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := newWSClient(conn, r.logger)

	if payload, err := json.Marshal(r.eng.GetStatus()); err == nil {
		if err := client.Send(payload); err != nil {
			return
		}
	}

	r.hub.Register(client)
	go func() {
		defer func() {
			r.hub.Unregister(client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// applyStartDefaults fills omitted optional fields so a bare POST starts a
// small smoke-test run against the configured topic.
func applyStartDefaults(cfg *engine.RunConfig, defaultTopic string) {
	if cfg.MessageCount == 0 {
		cfg.MessageCount = defaultMessageCount
	}
	if cfg.MessageRate == 0 {
		cfg.MessageRate = defaultMessageRate
	}
	if cfg.PayloadSize == 0 {
		cfg.PayloadSize = defaultPayloadSize
	}
	if cfg.Topic == "" {
		cfg.Topic = defaultTopic
	}
}
