package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"flowScope/converter"
	"flowScope/processor"
)

func TestParseLogLine(t *testing.T) {
	tests := []struct {
		line string
		ts   uint64
		msg  string
		ok   bool
	}{
		{"12 1 Executing activity: {}", 12, "1 Executing activity: {}", true},
		{"0 hello", 0, "hello", true},
		{"12", 0, "", false},
		{"-1 nope", 0, "", false},
		{"", 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			ts, msg, ok := parseLogLine(tt.line)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.ts, ts)
			require.Equal(t, tt.msg, msg)
		})
	}
}

func TestExtension(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		want    string
	}{
		{"pprof", []byte{0x1f, 0x8b, 0x08, 0x00}, ".pprof"},
		{"svg", []byte(`<svg version="1.1">`), ".svg"},
		{"xml svg", []byte("<?xml version=\"1.0\" standalone=\"no\"?>\n<!DOCTYPE svg PUBLIC>\n<svg>"), ".svg"},
		{"collapsed", []byte("Root 6\nRoot;Sub 4\n"), ".txt"},
		{"empty", nil, ".txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, extension(tt.content))
		})
	}
}

func TestRun_DefaultOutputName(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = processor.NewServer(processor.Config{
			MaxFrameBytes: 1 << 20,
			Renderer:      converter.CollapsedRenderer{},
		}).Serve(ctx, ln)
	}()
	defer func() {
		cancel()
		<-done
	}()

	dir := t.TempDir()
	input := filepath.Join(dir, "engine.log")
	require.NoError(t, os.WriteFile(input, []byte(
		`0 4 Executing activity: {"name":"Root","type":"Microflow","current_activity":{"type":"Start"}}
3 4 Executing activity: {"name":"Root","type":"Microflow","current_activity":{"type":"End"}}
`), 0o644))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	err = run(context.Background(), options{
		addr:       ln.Addr().String(),
		input:      input,
		identifier: "run-7",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dir, "run-7.txt"))
	require.NoError(t, err)
	require.Equal(t, "Root 3\n", string(got))
}

func TestRun(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = processor.NewServer(processor.Config{
			MaxFrameBytes: 1 << 20,
			Renderer:      converter.CollapsedRenderer{},
		}).Serve(ctx, ln)
	}()
	defer func() {
		cancel()
		<-done
	}()

	dir := t.TempDir()
	input := filepath.Join(dir, "engine.log")
	output := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(input, []byte(
		`0 4 Executing activity: {"name":"Root","type":"Microflow","current_activity":{"type":"Start"}}
# comment
2 4 Executing activity: {"name":"Sub","type":"Microflow","current_activity":{"type":"Start"}}
6 4 Executing activity: {"name":"Sub","type":"Microflow","current_activity":{"type":"End"}}
10 4 Executing activity: {"name":"Root","type":"Microflow","current_activity":{"type":"End"}}
`), 0o644))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	err = run(context.Background(), options{
		addr:   ln.Addr().String(),
		input:  input,
		output: output,
	}, log)
	require.NoError(t, err)

	got, err := os.ReadFile(output)
	require.NoError(t, err)
	require.Equal(t, "Root 6\nRoot;Sub 4\n", string(got))
}

func TestRun_NothingFinished(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = processor.NewServer(processor.Config{MaxFrameBytes: 1 << 20}).Serve(ctx, ln)
	}()
	defer func() {
		cancel()
		<-done
	}()

	dir := t.TempDir()
	input := filepath.Join(dir, "empty.log")
	require.NoError(t, os.WriteFile(input, nil, 0o644))

	err = run(context.Background(), options{
		addr:   ln.Addr().String(),
		input:  input,
		output: filepath.Join(dir, "out.pprof"),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.ErrorContains(t, err, "Failed to create flamegraph")
}
