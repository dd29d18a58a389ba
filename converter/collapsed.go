package converter

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"

	"flowScope/collector"
)

// Stack is one collapsed-stack record: a semicolon-joined path and its value.
// Values above math.MaxInt64 are clamped since pprof samples are signed.
type Stack struct {
	Frames []string
	Value  int64
}

func clampInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

// WriteCollapsed writes one "<path> <duration>" line for every attributed
// path of every finished execution in the session. Unfinished executions
// are skipped. Returns the number of lines written.
func WriteCollapsed(w io.Writer, s *collector.Session) (int, error) {
	bw := bufio.NewWriter(w)
	lines := 0

	for _, exec := range s.Finished() {
		times := exec.AttributedTimes()
		paths := make([]string, 0, len(times))
		for path := range times {
			paths = append(paths, path)
		}
		slices.Sort(paths)

		for _, path := range paths {
			if _, err := fmt.Fprintf(bw, "%s %d\n", path, times[path]); err != nil {
				return lines, fmt.Errorf("writing %s: %w", path, err)
			}
			lines++
		}
	}

	if err := bw.Flush(); err != nil {
		return lines, fmt.Errorf("flushing collapsed stacks: %w", err)
	}
	return lines, nil
}

// ParseCollapsed reads collapsed-stack text. The value is the field after
// the last space so frame names may contain spaces. Blank lines are skipped.
func ParseCollapsed(r io.Reader) ([]Stack, error) {
	var stacks []Stack
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		idx := strings.LastIndexByte(line, ' ')
		if idx <= 0 {
			return nil, fmt.Errorf("line %d: missing value", lineNo)
		}
		value, err := strconv.ParseUint(line[idx+1:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid value: %w", lineNo, err)
		}

		stacks = append(stacks, Stack{
			Frames: strings.Split(strings.TrimSpace(line[:idx]), ";"),
			Value:  clampInt64(value),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading collapsed stacks: %w", err)
	}

	return stacks, nil
}
