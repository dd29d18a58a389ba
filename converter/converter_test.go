package converter

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/require"

	"flowScope/collector"
)

func activityLine(executionID, flow, current string) string {
	return executionID + ` Executing activity: {"name":"` + flow + `","type":"Microflow","current_activity":` + current + `}`
}

func newSession(t *testing.T) *collector.Session {
	t.Helper()
	s := collector.NewSession("profile-1", nil, nil)
	lines := []struct {
		line string
		ts   uint64
	}{
		{activityLine("b", "Root", `{"type":"Start"}`), 0},
		{activityLine("b", "Sub", `{"type":"Start"}`), 2},
		{activityLine("b", "Sub", `{"type":"End"}`), 6},
		{activityLine("b", "Root", `{"type":"End"}`), 10},
		{activityLine("a", "Root", `{"type":"Start"}`), 20},
		{activityLine("a", "Root", `{"caption":"Do work"}`), 21},
		{activityLine("a", "Root", `{"type":"End"}`), 25},
		{activityLine("c", "Root", `{"type":"Start"}`), 30},
	}
	for _, l := range lines {
		_, err := s.HandleLine(l.line, l.ts)
		require.NoError(t, err)
	}
	return s
}

func TestWriteCollapsed(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteCollapsed(&buf, newSession(t))
	require.NoError(t, err)
	require.Equal(t, 4, n)

	// Executions by id, paths sorted; the unfinished execution "c" is absent.
	want := strings.Join([]string{
		"Root 1",
		"Root;__Do_work 4",
		"Root 6",
		"Root;Sub 4",
		"",
	}, "\n")
	require.Equal(t, want, buf.String())
}

func TestWriteCollapsedEmpty(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteCollapsed(&buf, collector.NewSession("empty", nil, nil))
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, buf.String())
}

func TestParseCollapsed(t *testing.T) {
	stacks, err := ParseCollapsed(strings.NewReader("Root;Sub 4\n\nRoot;__A b 3\n"))
	require.NoError(t, err)
	require.Equal(t, []Stack{
		{Frames: []string{"Root", "Sub"}, Value: 4},
		{Frames: []string{"Root", "__A b"}, Value: 3},
	}, stacks)

	_, err = ParseCollapsed(strings.NewReader("Root x\n"))
	require.Error(t, err)

	_, err = ParseCollapsed(strings.NewReader("Root\n"))
	require.Error(t, err)
}

func TestPprofRenderer(t *testing.T) {
	r := &PprofRenderer{Unit: "milliseconds"}
	out, err := r.Render([]byte("Root 6\nRoot;Sub 4\nRoot 1\n"))
	require.NoError(t, err)

	prof, err := profile.Parse(bytes.NewReader(out))
	require.NoError(t, err)
	require.Len(t, prof.Sample, 3)
	require.Len(t, prof.Function, 2)
	require.Equal(t, "wall", prof.SampleType[0].Type)
	require.Equal(t, "milliseconds", prof.SampleType[0].Unit)
	require.Equal(t, int64(11_000_000), prof.DurationNanos)

	leaf := prof.Sample[1].Location[0].Line[0].Function.Name
	root := prof.Sample[1].Location[1].Line[0].Function.Name
	require.Equal(t, "Sub", leaf)
	require.Equal(t, "Root", root)
	require.Equal(t, []int64{4, 1}, prof.Sample[1].Value)
}

func TestPprofRendererNoStacks(t *testing.T) {
	_, err := (&PprofRenderer{}).Render(nil)
	require.ErrorIs(t, err, ErrNoStacks)

	var renderErr *RenderError
	require.ErrorAs(t, err, &renderErr)
	require.Equal(t, FormatPprof, renderErr.Format)
}

func TestCollapsedRenderer(t *testing.T) {
	in := []byte("Root 6\nRoot;Sub 4\n")
	out, err := CollapsedRenderer{}.Render(in)
	require.NoError(t, err)
	require.Equal(t, in, out)

	_, err = CollapsedRenderer{}.Render([]byte("\n"))
	require.ErrorIs(t, err, ErrNoStacks)
}

func TestNewRenderer(t *testing.T) {
	r, err := NewRenderer("", RenderOptions{Unit: "milliseconds"})
	require.NoError(t, err)
	require.Equal(t, &PprofRenderer{Unit: "milliseconds"}, r)

	r, err = NewRenderer(FormatCollapsed, RenderOptions{})
	require.NoError(t, err)
	require.IsType(t, CollapsedRenderer{}, r)

	r, err = NewRenderer(FormatSVG, RenderOptions{
		FlamegraphCommand: "flamegraph.pl",
		FlamegraphArgs:    []string{"--countname", "ms"},
		Timeout:           time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, &FlamegraphRenderer{
		Command: "flamegraph.pl",
		Args:    []string{"--countname", "ms"},
		Timeout: time.Second,
	}, r)
	require.Equal(t, "image/svg+xml", r.ContentType())

	_, err = NewRenderer("png", RenderOptions{})
	require.Error(t, err)
}

func TestParseCollapsedLargeValues(t *testing.T) {
	stacks, err := ParseCollapsed(strings.NewReader("Root 18446744073709551615\nRoot;Sub 9223372036854775807\n"))
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64), stacks[0].Value)
	require.Equal(t, int64(math.MaxInt64), stacks[1].Value)

	_, err = ParseCollapsed(strings.NewReader("Root -1\n"))
	require.Error(t, err)
}

func TestConvertStacksToPprofSaturates(t *testing.T) {
	prof := ConvertStacksToPprof([]Stack{
		{Frames: []string{"Root"}, Value: math.MaxInt64},
		{Frames: []string{"Root", "Sub"}, Value: 5},
	}, "milliseconds")
	require.Equal(t, int64(math.MaxInt64), prof.DurationNanos)

	prof = ConvertStacksToPprof([]Stack{{Frames: []string{"Root"}, Value: 1 << 50}}, "milliseconds")
	require.Equal(t, int64(math.MaxInt64), prof.DurationNanos)
}
