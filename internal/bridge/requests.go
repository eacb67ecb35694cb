// Package bridge exposes a running load manager over HTTP: state
// snapshots, the load journal, a lifecycle event feed, and remote load
// requests.
package bridge

import (
	"errors"
	"strings"
	"time"
)

// ProtocolVersion identifies the bridge contract exposed via /health.
const ProtocolVersion = "1.0.0"

// LoadRequest asks the running manager to load one module.
type LoadRequest struct {
	ModuleID      string `json:"module_id"`
	UserInitiated bool   `json:"user_initiated,omitempty"`
}

// Normalize applies canonical formatting before validation.
func (r *LoadRequest) Normalize() {
	if r == nil {
		return
	}
	r.ModuleID = strings.TrimSpace(r.ModuleID)
}

// Validate enforces baseline schema requirements for load requests.
func (r LoadRequest) Validate() error {
	if r.ModuleID == "" {
		return errors.New("module_id is required")
	}
	return nil
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	ManagerReady  bool   `json:"manager_ready"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type loadResponse struct {
	Status     string    `json:"status"`
	ModuleID   string    `json:"module_id"`
	ServerTime time.Time `json:"server_time"`
}

type journalResponse struct {
	Entries []string `json:"entries"`
}

type eventsResponse struct {
	Entries []Entry `json:"entries"`
	Latest  int64   `json:"latest"`
}
