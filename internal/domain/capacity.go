package domain

// CapacitySnapshot is a point-in-time view of the worker pool.
type CapacitySnapshot struct {
	ActiveWorkers int   `json:"active_workers"`
	QueuedTasks   int   `json:"queued_tasks"`
	MaxWorkers    int   `json:"max_workers"`
	MaxQueue      int   `json:"max_queue"`
	Completed     int64 `json:"completed"`
	Failed        int64 `json:"failed"`
	Rejected      int64 `json:"rejected"`
}

// LoadRatio is (active + queued) / (maxWorkers + maxQueue).
func (s CapacitySnapshot) LoadRatio() float64 {
	total := s.MaxWorkers + s.MaxQueue
	if total <= 0 {
		return 1
	}
	return float64(s.ActiveWorkers+s.QueuedTasks) / float64(total)
}

// QueueUsage is the fraction of the pool backlog in use.
func (s CapacitySnapshot) QueueUsage() float64 {
	if s.MaxQueue <= 0 {
		return 0
	}
	return float64(s.QueuedTasks) / float64(s.MaxQueue)
}

// Available is the number of idle workers not already spoken for by backlog.
func (s CapacitySnapshot) Available() int {
	n := s.MaxWorkers - s.ActiveWorkers - s.QueuedTasks
	if n < 0 {
		return 0
	}
	return n
}
