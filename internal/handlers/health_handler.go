package handlers

import (
	"net/http"
	"time"
)

type HealthResponse struct {
	Status  string                 `json:"status"`
	Service string                 `json:"service"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks,omitempty"`
}

type HealthCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Pinger is anything that can report liveness (the MongoDB client wrapper).
type Pinger interface {
	Ping() error
}

// HealthHandler reports service and dependency health
type HealthHandler struct {
	version string
	mongo   Pinger
	kafka   Pinger
}

func NewHealthHandler(version string, mongo, kafka Pinger) *HealthHandler {
	return &HealthHandler{
		version: version,
		mongo:   mongo,
		kafka:   kafka,
	}
}

func (h *HealthHandler) GetOverallHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Service: "rita-automation-mock",
		Version: h.version,
		Checks:  make(map[string]HealthCheck),
	}

	allHealthy := true

	if h.mongo != nil {
		start := time.Now()
		if err := h.mongo.Ping(); err != nil {
			allHealthy = false
			response.Checks["mongodb"] = HealthCheck{Status: "unhealthy", Error: err.Error()}
		} else {
			response.Checks["mongodb"] = HealthCheck{Status: "healthy", Latency: time.Since(start).String()}
		}
	}

	if h.kafka != nil {
		if err := h.kafka.Ping(); err != nil {
			allHealthy = false
			response.Checks["kafka"] = HealthCheck{Status: "unhealthy", Error: err.Error()}
		} else {
			response.Checks["kafka"] = HealthCheck{Status: "healthy"}
		}
	}

	if allHealthy {
		response.Status = "healthy"
		respondWithJSON(w, http.StatusOK, response)
	} else {
		response.Status = "unhealthy"
		respondWithJSON(w, http.StatusServiceUnavailable, response)
	}
}
