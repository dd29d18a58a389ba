package converter

import (
	"bytes"
	"errors"
	"fmt"
	"time"
)

// ErrNoStacks is returned when there is nothing to render.
var ErrNoStacks = errors.New("no stack counts found")

// RenderError reports a failure turning collapsed stacks into output.
type RenderError struct {
	Format string
	Err    error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Format, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Renderer turns collapsed-stack text into flame graph bytes.
type Renderer interface {
	Render(collapsed []byte) ([]byte, error)
	// ContentType describes the produced bytes
	ContentType() string
}

// CollapsedRenderer returns the collapsed text unchanged for clients that
// draw flame graphs themselves.
type CollapsedRenderer struct{}

func (CollapsedRenderer) Render(collapsed []byte) ([]byte, error) {
	stacks, err := ParseCollapsed(bytes.NewReader(collapsed))
	if err != nil {
		return nil, &RenderError{Format: FormatCollapsed, Err: err}
	}
	if len(stacks) == 0 {
		return nil, &RenderError{Format: FormatCollapsed, Err: ErrNoStacks}
	}
	out := make([]byte, len(collapsed))
	copy(out, collapsed)
	return out, nil
}

func (CollapsedRenderer) ContentType() string { return "text/plain; charset=utf-8" }

// Render formats understood by NewRenderer.
const (
	FormatPprof     = "pprof"
	FormatCollapsed = "collapsed"
	FormatSVG       = "svg"
)

// RenderOptions carries the settings the renderers need.
type RenderOptions struct {
	Unit              string // Timestamp unit supplied by the client, recorded in pprof output
	FlamegraphCommand string
	FlamegraphArgs    []string
	Timeout           time.Duration
}

// NewRenderer returns the renderer for format.
func NewRenderer(format string, opts RenderOptions) (Renderer, error) {
	switch format {
	case FormatPprof, "":
		return &PprofRenderer{Unit: opts.Unit}, nil
	case FormatCollapsed:
		return CollapsedRenderer{}, nil
	case FormatSVG:
		return &FlamegraphRenderer{
			Command: opts.FlamegraphCommand,
			Args:    opts.FlamegraphArgs,
			Timeout: opts.Timeout,
		}, nil
	}
	return nil, fmt.Errorf("unknown render format %q", format)
}
