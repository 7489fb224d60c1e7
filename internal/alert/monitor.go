package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/timmy/vidflow/internal/domain"
	"github.com/timmy/vidflow/internal/logger"
	"github.com/timmy/vidflow/internal/pool"
)

// MonitorConfig tunes the backpressure monitor.
type MonitorConfig struct {
	Threshold float64       // queue usage that triggers an alert
	Interval  time.Duration // polling interval
	Cooldown  time.Duration // minimum gap between alerts
}

// Monitor polls pool capacity and raises an alert when backlog usage crosses the threshold.
type Monitor struct {
	probe   pool.Probe
	channel Channel
	cfg     MonitorConfig

	mu        sync.Mutex
	lastAlert time.Time
	now       func() time.Time
}

// NewMonitor creates a monitor.
func NewMonitor(probe pool.Probe, channel Channel, cfg MonitorConfig) *Monitor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.8
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	return &Monitor{
		probe:   probe,
		channel: channel,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Run polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ctx = logger.SetComponent(ctx, "alert_monitor")
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check samples once and alerts if needed. Returns true if an alert was sent.
func (m *Monitor) Check(ctx context.Context) bool {
	snap := m.probe.Sample()
	if snap.QueueUsage() < m.cfg.Threshold {
		return false
	}

	m.mu.Lock()
	now := m.now()
	if !m.lastAlert.IsZero() && now.Sub(m.lastAlert) < m.cfg.Cooldown {
		m.mu.Unlock()
		return false
	}
	m.lastAlert = now
	m.mu.Unlock()

	m.channel.SendAlert(ctx, formatAlert("Video processing backlog is filling up", snap))
	return true
}

// LogStatus writes a pool status line tagged with label and runs Check.
func (m *Monitor) LogStatus(ctx context.Context, label string) {
	snap := m.probe.Sample()
	logger.With(logger.Fields{
		"active":    snap.ActiveWorkers,
		"max":       snap.MaxWorkers,
		"queued":    snap.QueuedTasks,
		"capacity":  snap.MaxQueue,
		"completed": snap.Completed,
		"failed":    snap.Failed,
		"load":      fmt.Sprintf("%.2f", snap.LoadRatio()),
	}).Info(ctx, "Pool status [%s]", label)
	m.Check(ctx)
}

// RejectHandler adapts the channel for pool drop-with-alert rejections.
func (m *Monitor) RejectHandler() pool.RejectHandler {
	return func(task pool.Task, snap domain.CapacitySnapshot) {
		m.channel.SendAlert(context.Background(), formatAlert(fmt.Sprintf("Task %s dropped, pool saturated", task.Name), snap))
	}
}

func formatAlert(title string, snap domain.CapacitySnapshot) string {
	return fmt.Sprintf("[Alert] %s\nqueued: %d/%d (%.0f%%)\nactive workers: %d/%d",
		title,
		snap.QueuedTasks, snap.MaxQueue, snap.QueueUsage()*100,
		snap.ActiveWorkers, snap.MaxWorkers)
}
