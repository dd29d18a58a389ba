package collector

import "log/slog"

// StackFrame is one active flow invocation on an execution's call stack
type StackFrame struct {
	Path      string // Semicolon-joined names from the tracked root down to this frame
	EnteredAt uint64 // Timestamp of the Start activity that pushed the frame
	ChildTime uint64 // Inclusive time of children already popped off this frame
}

// Execution reconstructs the call stack of one execution id and
// attributes elapsed time to the stack paths it passes through.
type Execution struct {
	flowName   string
	stack      []StackFrame
	pending    string // Timer name of the last Named activity, "" when none
	last       uint64
	start      uint64
	attributed map[string]uint64
	log        *slog.Logger
}

// Session routes activity log lines to per-execution state.
type Session struct {
	Identifier string
	flowFilter *string
	executions map[string]*Execution
	log        *slog.Logger
}
