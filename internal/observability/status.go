package observability

import (
	"sync"
	"time"
)

type Phase string

const (
	PhaseIdle       Phase = "IDLE"
	PhaseGenerating Phase = "GENERATING"
	PhaseResponding Phase = "RESPONDING"
	PhaseClassify   Phase = "CLASSIFYING"
)

type SystemStatus struct {
	mu            sync.RWMutex
	Phase         Phase
	ActiveUser    string
	InFlight      int
	LastHeartbeat time.Time
}

// Snapshot is a point-in-time copy of the status, safe to serialise.
type Snapshot struct {
	Phase         Phase     `json:"phase"`
	ActiveUser    string    `json:"active_user,omitempty"`
	InFlight      int       `json:"in_flight"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Uptime        string    `json:"uptime"`
}

var globalStatus = &SystemStatus{
	Phase:         PhaseIdle,
	LastHeartbeat: time.Now(),
}

// SetStatus records which model phase is running and for whom.
func SetStatus(phase Phase, userID string) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.Phase = phase
	globalStatus.ActiveUser = userID
}

// Track marks one request as in flight. Pair with Untrack.
func Track() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.InFlight++
}

func Untrack() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	if globalStatus.InFlight > 0 {
		globalStatus.InFlight--
	}
	if globalStatus.InFlight == 0 {
		globalStatus.Phase = PhaseIdle
		globalStatus.ActiveUser = ""
	}
}

// GetStatus retrieves a copy of the global system status.
func GetStatus() Snapshot {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return Snapshot{
		Phase:         globalStatus.Phase,
		ActiveUser:    globalStatus.ActiveUser,
		InFlight:      globalStatus.InFlight,
		LastHeartbeat: globalStatus.LastHeartbeat,
		Uptime:        time.Since(startTime).Round(time.Second).String(),
	}
}

// Heartbeat updates the last heartbeat time.
func Heartbeat() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.LastHeartbeat = time.Now()
}

// Healthy reports whether a heartbeat arrived within window.
func Healthy(window time.Duration) bool {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return time.Since(globalStatus.LastHeartbeat) < window
}
