package http

import (
	"github.com/fyrsmithlabs/curio/internal/curiosity"
	"github.com/fyrsmithlabs/curio/internal/experience"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status    string                     `json:"status"`
	Version   string                     `json:"version,omitempty"`
	AgentType string                     `json:"agent_type"`
	Epoch     int                        `json:"epoch"`
	Epochs    int                        `json:"epochs"`
	Buffer    experience.Stats           `json:"buffer"`
	Frontier  map[string]float64         `json:"frontier"`
	Last      *curiosity.TrainingMetrics `json:"last_epoch,omitempty"`
}
