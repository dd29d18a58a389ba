package collector

import (
	"log/slog"
	"maps"

	"flowScope/activity"
)

// NewExecution creates an execution that only starts tracking once a
// Start activity for flowName arrives on an empty stack.
func NewExecution(flowName string, log *slog.Logger) *Execution {
	if log == nil {
		log = slog.Default()
	}
	return &Execution{
		flowName:   flowName,
		attributed: make(map[string]uint64),
		log:        log,
	}
}

// FlowName returns the root flow this execution tracks.
func (e *Execution) FlowName() string {
	return e.flowName
}

// Depth returns the number of active frames.
func (e *Execution) Depth() int {
	return len(e.stack)
}

// Finished reports whether the stack has drained after recording results.
// Once true it stays true; later activities never remove results.
func (e *Execution) Finished() bool {
	return len(e.stack) == 0 && len(e.attributed) > 0
}

// ObservedDuration is the span from the root Start to the last processed activity.
func (e *Execution) ObservedDuration() uint64 {
	return elapsed(e.start, e.last)
}

// AttributedTimes returns a copy of the self time recorded per stack path.
func (e *Execution) AttributedTimes() map[string]uint64 {
	return maps.Clone(e.attributed)
}

// HandleActivity advances the call stack by one activity observed at timestamp.
func (e *Execution) HandleActivity(ev activity.Event, timestamp uint64) {
	e.closeTimer(timestamp)

	switch ev.Kind {
	case activity.Start:
		var path string
		if top := e.top(); top != nil {
			path = top.Path + ";" + ev.Name
		} else {
			// A flow never started as the tracked root is not worth tracking.
			if ev.Name != e.flowName {
				return
			}
			e.start = timestamp
			path = ev.Name
		}
		e.log.Debug("start flow", "path", path)
		e.stack = append(e.stack, StackFrame{Path: path, EnteredAt: timestamp})

	case activity.End, activity.Break, activity.Continue:
		if len(e.stack) == 0 {
			return
		}
		popped := e.stack[len(e.stack)-1]
		e.stack = e.stack[:len(e.stack)-1]

		inclusive := elapsed(popped.EnteredAt, timestamp)
		e.log.Debug("end flow", "path", popped.Path, "dt", inclusive)
		self := elapsed(popped.ChildTime, inclusive)
		if self > 0 || popped.ChildTime == 0 {
			// A frame with no children keeps its entry even at zero, so an
			// instant root still finishes the execution.
			e.attributed[popped.Path] += self
		}

		if top := e.top(); top != nil {
			top.ChildTime += inclusive
		}

	case activity.Named:
		if len(e.stack) > 0 {
			e.pending = ev.TimerName()
		}

	case activity.ListLoop:
	}
}

// closeTimer credits the time since the previous activity to the pending
// named activity, if any, and moves the clock forward. The timer counts as
// child time of the frame it ran in, so the frame's self time excludes it.
func (e *Execution) closeTimer(timestamp uint64) {
	if top := e.top(); top != nil && e.pending != "" {
		delta := elapsed(e.last, timestamp)
		e.log.Debug("activity", "path", top.Path, "activity", e.pending, "dt", delta)
		e.credit(top.Path+";"+e.pending, delta)
		top.ChildTime += delta
		e.pending = ""
	}
	e.last = timestamp
}

// credit adds a named timer's d to path. Zero durations leave no entry behind.
func (e *Execution) credit(path string, d uint64) {
	if d == 0 {
		return
	}
	e.attributed[path] += d
}

func (e *Execution) top() *StackFrame {
	if len(e.stack) == 0 {
		return nil
	}
	return &e.stack[len(e.stack)-1]
}

// elapsed returns to - from, clamped at zero for out of order timestamps.
func elapsed(from, to uint64) uint64 {
	if to < from {
		return 0
	}
	return to - from
}
