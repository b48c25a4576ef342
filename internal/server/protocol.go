package server

import (
	"encoding/json"
	"time"
)

type HealthResponse struct {
	Status       string    `json:"status"`
	Service      string    `json:"service"`
	Version      string    `json:"version"`
	SSHConnected bool      `json:"ssh_connected"`
	Time         time.Time `json:"time"`
}

type ToolRequest struct {
	Args json.RawMessage `json:"args"`
}

type ToolResponse struct {
	Result string `json:"result"`
}

type MetricsResponse struct {
	Requests        int64 `json:"requests"`
	Errors          int64 `json:"errors"`
	TotalDurationMS int64 `json:"total_duration_ms"`
}
