package observability

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// RecentAdmission keeps a short trace of admission decisions for the UI.
type RecentAdmission struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
	Approved    bool   `json:"approved"`
	Reason      string `json:"reason"`
	Timestamp   string `json:"timestamp"`
}

// MonitoringStats aggregates lobby metrics for the debug UI.
type MonitoringStats struct {
	// --- LOBBY METRICS ---
	ParticipantsJoined uint64 `json:"participants_joined"`
	ParticipantsLeft   uint64 `json:"participants_left"`
	AdmissionsRejected uint64 `json:"admissions_rejected"`
	ReadyAssertions    uint64 `json:"ready_assertions"`
	BroadcastsSent     uint64 `json:"broadcasts_sent"`
	BroadcastFailures  uint64 `json:"broadcast_failures"`

	// --- SYSTEM METRICS ---
	AllocMemMb       uint64            `json:"alloc_mem_mb"`
	NumGC            uint32            `json:"num_gc"`
	RecentAdmissions []RecentAdmission `json:"recent_admissions"`
}

// MonitoringManager collects lobby telemetry in real time.
// Counters are atomic so hot paths never contend on the mutex.
type MonitoringManager struct {
	log         *slog.Logger
	mu          sync.RWMutex
	latestStats MonitoringStats

	ParticipantsJoined uint64
	ParticipantsLeft   uint64
	AdmissionsRejected uint64
	ReadyAssertions    uint64
	BroadcastsSent     uint64
	BroadcastFailures  uint64
}

func NewMonitoringManager(log *slog.Logger) *MonitoringManager {
	return &MonitoringManager{
		log: log,
		latestStats: MonitoringStats{
			RecentAdmissions: make([]RecentAdmission, 0),
		},
	}
}

func (mm *MonitoringManager) IncrParticipantsJoined() {
	atomic.AddUint64(&mm.ParticipantsJoined, 1)
}

func (mm *MonitoringManager) IncrParticipantsLeft() {
	atomic.AddUint64(&mm.ParticipantsLeft, 1)
}

func (mm *MonitoringManager) IncrAdmissionsRejected() {
	atomic.AddUint64(&mm.AdmissionsRejected, 1)
}

func (mm *MonitoringManager) IncrReadyAssertions() {
	atomic.AddUint64(&mm.ReadyAssertions, 1)
}

func (mm *MonitoringManager) IncrBroadcastsSent() {
	atomic.AddUint64(&mm.BroadcastsSent, 1)
}

func (mm *MonitoringManager) IncrBroadcastFailures() {
	atomic.AddUint64(&mm.BroadcastFailures, 1)
}

// AddAdmission records an admission decision in the rolling trace (thread-safe).
func (mm *MonitoringManager) AddAdmission(identity, displayName string, approved bool, reason string) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	admission := RecentAdmission{
		Identity:    identity,
		DisplayName: displayName,
		Approved:    approved,
		Reason:      reason,
		Timestamp:   time.Now().Format("15:04:05"),
	}

	mm.latestStats.RecentAdmissions = append([]RecentAdmission{admission}, mm.latestStats.RecentAdmissions...)

	// Keep only the 20 most recent
	if len(mm.latestStats.RecentAdmissions) > 20 {
		mm.latestStats.RecentAdmissions = mm.latestStats.RecentAdmissions[:20]
	}
}

// GetLatest returns a snapshot of all counters plus memory statistics.
func (mm *MonitoringManager) GetLatest() MonitoringStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	mm.mu.RLock()
	defer mm.mu.RUnlock()

	stats := mm.latestStats
	stats.ParticipantsJoined = atomic.LoadUint64(&mm.ParticipantsJoined)
	stats.ParticipantsLeft = atomic.LoadUint64(&mm.ParticipantsLeft)
	stats.AdmissionsRejected = atomic.LoadUint64(&mm.AdmissionsRejected)
	stats.ReadyAssertions = atomic.LoadUint64(&mm.ReadyAssertions)
	stats.BroadcastsSent = atomic.LoadUint64(&mm.BroadcastsSent)
	stats.BroadcastFailures = atomic.LoadUint64(&mm.BroadcastFailures)
	stats.AllocMemMb = mem.Alloc / 1024 / 1024
	stats.NumGC = mem.NumGC
	return stats
}
