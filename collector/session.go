package collector

import (
	"fmt"
	"log/slog"
	"slices"

	"flowScope/activity"
	"flowScope/logger"
)

// NewSession creates a session. When flowFilter is non-nil only activities
// whose flow name equals it are forwarded to executions.
func NewSession(identifier string, flowFilter *string, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		Identifier: identifier,
		flowFilter: flowFilter,
		executions: make(map[string]*Execution),
		log:        logger.WithSession(log, identifier),
	}
}

// HandleLine processes one log line observed at timestamp and reports
// whether it reached an execution. Lines that are not activity log lines
// are ignored. A malformed activity payload is returned as an error.
//
// The filter is compared to every activity's flow name, not only the root
// Start, so nested flows never pass a configured filter.
func (s *Session) HandleLine(line string, timestamp uint64) (bool, error) {
	executionID, ev, ok, err := activity.ParseLine(line)
	if !ok {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("execution %s: %w", executionID, err)
	}

	exec, exists := s.executions[executionID]
	if !exists {
		exec = NewExecution(ev.Name, s.log.With("execution", executionID))
		s.executions[executionID] = exec
	}

	if s.flowFilter != nil && *s.flowFilter != ev.Name {
		return false, nil
	}

	exec.HandleActivity(ev, timestamp)
	return true, nil
}

// Execution returns the state tracked for an execution id.
func (s *Session) Execution(id string) (*Execution, bool) {
	exec, ok := s.executions[id]
	return exec, ok
}

// ExecutionIDs returns the ids of all tracked executions in sorted order.
func (s *Session) ExecutionIDs() []string {
	ids := make([]string, 0, len(s.executions))
	for id := range s.executions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Finished returns the finished executions ordered by execution id.
func (s *Session) Finished() []*Execution {
	var out []*Execution
	for _, id := range s.ExecutionIDs() {
		if exec := s.executions[id]; exec.Finished() {
			out = append(out, exec)
		}
	}
	return out
}

// FlowFilter returns the configured flow name filter, if any.
func (s *Session) FlowFilter() (string, bool) {
	if s.flowFilter == nil {
		return "", false
	}
	return *s.flowFilter, true
}
