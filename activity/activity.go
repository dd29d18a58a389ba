package activity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Prefix marks a microflow engine log line carrying an activity payload.
const Prefix = "Executing activity: "

// ErrMalformed is returned when an activity payload cannot be decoded.
var ErrMalformed = errors.New("malformed activity")

// Kind identifies what an activity does to the call stack
type Kind int

const (
	Start Kind = iota
	End
	Break
	Continue
	ListLoop
	Named
)

var kindNames = map[string]Kind{
	"Start":    Start,
	"End":      End,
	"Break":    Break,
	"Continue": Continue,
	"ListLoop": ListLoop,
}

func (k Kind) String() string {
	switch k {
	case Start:
		return "Start"
	case End:
		return "End"
	case Break:
		return "Break"
	case Continue:
		return "Continue"
	case ListLoop:
		return "ListLoop"
	case Named:
		return "Named"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Event is a single decoded activity of a flow
type Event struct {
	Name    string // Flow the activity belongs to
	Type    string // Element type reported by the runtime
	Kind    Kind   // Lifecycle marker or Named
	Caption string // Only set for Named activities
}

// rawEvent mirrors the JSON payload; pointers detect missing fields.
type rawEvent struct {
	Name            *string         `json:"name"`
	Type            *string         `json:"type"`
	CurrentActivity json.RawMessage `json:"current_activity"`
}

// Decode parses the JSON payload of an activity log line.
func Decode(data []byte) (Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.Name == nil {
		return Event{}, fmt.Errorf("%w: missing name", ErrMalformed)
	}
	if raw.Type == nil {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if len(raw.CurrentActivity) == 0 {
		return Event{}, fmt.Errorf("%w: missing current_activity", ErrMalformed)
	}

	kind, caption, err := decodeCurrent(raw.CurrentActivity)
	if err != nil {
		return Event{}, err
	}

	return Event{
		Name:    *raw.Name,
		Type:    *raw.Type,
		Kind:    kind,
		Caption: caption,
	}, nil
}

// decodeCurrent resolves current_activity in two steps: a recognized
// "type" tag wins, anything else must be an object holding a caption.
func decodeCurrent(data json.RawMessage) (Kind, string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return 0, "", fmt.Errorf("%w: current_activity: %v", ErrMalformed, err)
	}

	if rawTag, ok := fields["type"]; ok {
		var tag string
		if err := json.Unmarshal(rawTag, &tag); err == nil {
			if kind, known := kindNames[tag]; known {
				return kind, "", nil
			}
		}
	}

	rawCaption, ok := fields["caption"]
	if !ok {
		return 0, "", fmt.Errorf("%w: current_activity has neither a known type nor a caption", ErrMalformed)
	}
	var caption string
	if err := json.Unmarshal(rawCaption, &caption); err != nil {
		return 0, "", fmt.Errorf("%w: caption: %v", ErrMalformed, err)
	}
	return Named, caption, nil
}

// ParseLine splits "<execution id> Executing activity: <json>" into the
// execution id and decoded event. ok is false for lines of any other shape,
// which callers skip; err is only set when the payload itself is broken.
func ParseLine(line string) (executionID string, ev Event, ok bool, err error) {
	executionID, rest, found := strings.Cut(line, " ")
	if !found || !strings.HasPrefix(rest, Prefix) {
		return "", Event{}, false, nil
	}

	ev, err = Decode([]byte(rest[len(Prefix):]))
	if err != nil {
		return executionID, Event{}, true, err
	}
	return executionID, ev, true, nil
}

// TimerName is the path segment used for a named activity: the caption
// prefixed with "__" and with spaces replaced by underscores.
func (e Event) TimerName() string {
	return "__" + strings.ReplaceAll(e.Caption, " ", "_")
}
