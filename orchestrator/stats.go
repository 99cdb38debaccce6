package orchestrator

import "legalia-backend/models"

// AgentStats summarises one agent's entries in an execution log.
type AgentStats struct {
	Executions  int     `json:"executions"`
	TotalTimeMs float64 `json:"total_time_ms"`
	Errors      int     `json:"errors"`
}

// ExecutionStats aggregates an execution log per agent. An execution is a
// started event; failures and error events both count as errors.
func ExecutionStats(log models.ExecutionLog) map[string]AgentStats {
	stats := make(map[string]AgentStats)
	for _, entry := range log {
		agent := entry.Agent
		if agent == "" {
			agent = "unknown"
		}
		s := stats[agent]

		switch entry.Event {
		case EventExecutionStarted:
			s.Executions++
		case EventExecutionFailed, EventError:
			s.Errors++
		}
		if ms, ok := number(entry.Data["execution_time_ms"]); ok {
			s.TotalTimeMs += ms
		}

		stats[agent] = s
	}
	return stats
}

// number reads a log value that may have gone through a JSON round trip.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
