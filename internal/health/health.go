package health

import (
	"encoding/json"
	"net/http"
	"os"
	"time"
)

type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// Monitor reports on the pieces the web front depends on: where
// submissions are forwarded to and the store file the daemon writes.
type Monitor struct {
	daemonAddr string
	storePath  string
	startTime  time.Time
}

type Report struct {
	Status HealthStatus `json:"status"`
	Uptime string       `json:"uptime"`
	Daemon string       `json:"daemon"`
	Store  StoreReport  `json:"store"`
}

type StoreReport struct {
	Path   string       `json:"path"`
	Status HealthStatus `json:"status"`
	Size   int64        `json:"size"`
	Error  string       `json:"error,omitempty"`
}

func NewMonitor(daemonAddr, storePath string) *Monitor {
	return &Monitor{
		daemonAddr: daemonAddr,
		storePath:  storePath,
		startTime:  time.Now(),
	}
}

func (m *Monitor) Check() Report {
	report := Report{
		Status: StatusHealthy,
		Uptime: time.Since(m.startTime).Round(time.Second).String(),
		Daemon: m.daemonAddr,
		Store: StoreReport{
			Path:   m.storePath,
			Status: StatusHealthy,
		},
	}

	info, err := os.Stat(m.storePath)
	switch {
	case err != nil:
		report.Store.Status = StatusUnhealthy
		report.Store.Error = err.Error()
	case info.IsDir():
		report.Store.Status = StatusUnhealthy
		report.Store.Error = "store path is a directory"
	default:
		report.Store.Size = info.Size()
	}

	if report.Store.Status != StatusHealthy {
		report.Status = StatusUnhealthy
	}

	return report
}

func (m *Monitor) HealthHandler(w http.ResponseWriter, r *http.Request) {
	report := m.Check()

	status := http.StatusOK
	if report.Status != StatusHealthy {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(report)
}

func (m *Monitor) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"alive"}`))
}
