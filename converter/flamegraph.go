package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultFlamegraphCommand is the flame graph tool used when none is configured.
const DefaultFlamegraphCommand = "inferno-flamegraph"

// FlamegraphRenderer pipes collapsed stacks through an external flame graph
// tool (inferno-flamegraph, flamegraph.pl) and returns the SVG it prints.
type FlamegraphRenderer struct {
	Command string
	Args    []string
	Timeout time.Duration // 0 lets the tool run until it exits
}

func (r *FlamegraphRenderer) Render(collapsed []byte) ([]byte, error) {
	stacks, err := ParseCollapsed(bytes.NewReader(collapsed))
	if err != nil {
		return nil, &RenderError{Format: FormatSVG, Err: err}
	}
	if len(stacks) == 0 {
		return nil, &RenderError{Format: FormatSVG, Err: ErrNoStacks}
	}

	ctx := context.Background()
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	command := r.Command
	if command == "" {
		command = DefaultFlamegraphCommand
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, command, r.Args...)
	cmd.Stdin = bytes.NewReader(collapsed)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%s: %w: %s", command, err, msg)
		} else {
			err = fmt.Errorf("%s: %w", command, err)
		}
		return nil, &RenderError{Format: FormatSVG, Err: err}
	}
	if stdout.Len() == 0 {
		return nil, &RenderError{Format: FormatSVG, Err: errors.New(command + " produced no output")}
	}
	return stdout.Bytes(), nil
}

func (r *FlamegraphRenderer) ContentType() string { return "image/svg+xml" }
