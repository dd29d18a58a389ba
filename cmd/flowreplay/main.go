// Command flowreplay feeds a recorded engine log through a running
// collector and stores the flame graph it returns.
//
// Each input line is "<timestamp> <message>". Lines that do not start
// with a timestamp are skipped. Without --output the result is saved as
// <id>.pprof, <id>.svg or <id>.txt depending on what the collector renders.
package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"flowScope/client"
	"flowScope/protocol"
)

type options struct {
	addr       string
	input      string
	output     string
	identifier string
	flow       string
	timeout    time.Duration
}

func main() {
	var opts options
	pflag.StringVarP(&opts.addr, "addr", "a", "127.0.0.1:12345", "collector address")
	pflag.StringVarP(&opts.input, "input", "i", "-", "log file to replay, - for stdin")
	pflag.StringVarP(&opts.output, "output", "o", "", "file the returned flame graph is written to (default <id> plus an extension matching the content)")
	pflag.StringVar(&opts.identifier, "id", "", "session identifier (random when empty)")
	pflag.StringVar(&opts.flow, "flow", "", "only profile executions of this flow")
	pflag.DurationVar(&opts.timeout, "timeout", 30*time.Second, "per request timeout")
	pflag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, log); err != nil {
		log.Error("replay failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, log *slog.Logger) error {
	in := io.Reader(os.Stdin)
	if opts.input != "-" {
		f, err := os.Open(opts.input)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	if opts.identifier == "" {
		opts.identifier = uuid.NewString()
	}
	var flow *string
	if opts.flow != "" {
		flow = &opts.flow
	}

	c, err := client.Dial(ctx, opts.addr, client.WithTimeout(opts.timeout))
	if err != nil {
		return err
	}
	defer c.Close()

	sent, err := replay(ctx, c, in, opts.identifier, flow)
	if err != nil {
		return err
	}
	log.Info("log replayed", "identifier", opts.identifier, "lines", sent)

	resp, err := c.End(true)
	if err != nil {
		return err
	}
	switch r := resp.(type) {
	case protocol.FileResponse:
		path := opts.output
		if path == "" {
			path = r.Identifier + extension(r.Content)
		}
		if err := os.WriteFile(path, r.Content, 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		log.Info("flame graph written", "path", path, "bytes", len(r.Content))
		return nil
	case protocol.ErrorResponse:
		return fmt.Errorf("collector: %s", r.Message)
	default:
		return fmt.Errorf("unexpected response %T", resp)
	}
}

// replay opens a session and sends every timestamped line of r.
func replay(ctx context.Context, c *client.Client, r io.Reader, identifier string, flow *string) (int, error) {
	if err := c.Start(identifier, flow); err != nil {
		return 0, err
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	sent := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		ts, msg, ok := parseLogLine(scanner.Text())
		if !ok {
			continue
		}
		if err := c.Log(ts, msg); err != nil {
			return sent, err
		}
		sent++
	}
	if err := scanner.Err(); err != nil {
		return sent, fmt.Errorf("read input: %w", err)
	}
	return sent, nil
}

func parseLogLine(line string) (uint64, string, bool) {
	head, msg, ok := strings.Cut(line, " ")
	if !ok {
		return 0, "", false
	}
	ts, err := strconv.ParseUint(head, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return ts, msg, true
}

// extension guesses a file extension from the rendered bytes: gzipped
// pprof, SVG, or collapsed-stack text.
func extension(content []byte) string {
	switch {
	case bytes.HasPrefix(content, []byte{0x1f, 0x8b}):
		return ".pprof"
	case isSVG(content):
		return ".svg"
	default:
		return ".txt"
	}
}

func isSVG(content []byte) bool {
	head := bytes.TrimSpace(content[:min(len(content), 512)])
	return bytes.HasPrefix(head, []byte("<svg")) ||
		(bytes.HasPrefix(head, []byte("<?xml")) && bytes.Contains(head, []byte("<svg"))) ||
		bytes.HasPrefix(head, []byte("<!DOCTYPE svg"))
}
