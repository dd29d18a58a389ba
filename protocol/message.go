package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Message type tags.
const (
	TypeProfilerStart = "ProfilerStart"
	TypeLogMessage    = "LogMessage"
	TypeProfilerEnd   = "ProfilerEnd"
	TypeFileResponse  = "FileResponse"
	TypeErrorResponse = "ErrorResponse"
)

// ErrMalformed is returned for payloads that are not a valid message.
var ErrMalformed = errors.New("malformed message")

// Request is one of ProfilerStart, LogMessage or ProfilerEnd.
type Request interface {
	RequestType() string
}

// ProfilerStart opens a new profiling session, replacing any current one.
type ProfilerStart struct {
	Identifier string
	FlowName   *string // Optional flow name filter
}

// LogMessage carries one runtime log line and its timestamp.
type LogMessage struct {
	Timestamp uint64
	Message   string
}

// ProfilerEnd closes the session; Save asks for a rendered flame graph.
type ProfilerEnd struct {
	Save bool
}

func (ProfilerStart) RequestType() string { return TypeProfilerStart }
func (LogMessage) RequestType() string    { return TypeLogMessage }
func (ProfilerEnd) RequestType() string   { return TypeProfilerEnd }

// Response is one of FileResponse or ErrorResponse.
type Response interface {
	ResponseType() string
}

// FileResponse returns the rendered flame graph of a session.
type FileResponse struct {
	Identifier string
	Content    []byte
}

// ErrorResponse reports that a session could not be rendered.
type ErrorResponse struct {
	Identifier string
	Message    string
}

func (FileResponse) ResponseType() string  { return TypeFileResponse }
func (ErrorResponse) ResponseType() string { return TypeErrorResponse }

type envelope struct {
	Type string `json:"type"`
}

type profilerStartWire struct {
	Type       string  `json:"type"`
	Identifier *string `json:"identifier"`
	FlowName   *string `json:"flow_name"`
}

type logMessageWire struct {
	Type      string  `json:"type"`
	Timestamp *uint64 `json:"timestamp"`
	Message   *string `json:"message"`
}

type profilerEndWire struct {
	Type string `json:"type"`
	Save *bool  `json:"save"`
}

// Content is encoded by encoding/json as standard base64.
type fileResponseWire struct {
	Type       string  `json:"type"`
	Identifier *string `json:"identifier"`
	Content    []byte  `json:"content"`
}

type errorResponseWire struct {
	Type       string  `json:"type"`
	Identifier *string `json:"identifier"`
	Message    *string `json:"message"`
}

func missing(field string) error {
	return fmt.Errorf("%w: missing field %q", ErrMalformed, field)
}

// DecodeRequest parses a request payload by its type tag.
func DecodeRequest(data []byte) (Request, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeProfilerStart:
		var w profilerStartWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if w.Identifier == nil {
			return nil, missing("identifier")
		}
		return ProfilerStart{Identifier: *w.Identifier, FlowName: w.FlowName}, nil

	case TypeLogMessage:
		var w logMessageWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if w.Timestamp == nil {
			return nil, missing("timestamp")
		}
		if w.Message == nil {
			return nil, missing("message")
		}
		return LogMessage{Timestamp: *w.Timestamp, Message: *w.Message}, nil

	case TypeProfilerEnd:
		var w profilerEndWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if w.Save == nil {
			return nil, missing("save")
		}
		return ProfilerEnd{Save: *w.Save}, nil
	}

	return nil, fmt.Errorf("%w: unknown request type %q", ErrMalformed, env.Type)
}

// EncodeRequest serializes a request with its type tag.
func EncodeRequest(req Request) ([]byte, error) {
	switch r := req.(type) {
	case ProfilerStart:
		return json.Marshal(profilerStartWire{Type: TypeProfilerStart, Identifier: &r.Identifier, FlowName: r.FlowName})
	case LogMessage:
		return json.Marshal(logMessageWire{Type: TypeLogMessage, Timestamp: &r.Timestamp, Message: &r.Message})
	case ProfilerEnd:
		return json.Marshal(profilerEndWire{Type: TypeProfilerEnd, Save: &r.Save})
	}
	return nil, fmt.Errorf("unsupported request %T", req)
}

// EncodeResponse serializes a response with its type tag.
func EncodeResponse(resp Response) ([]byte, error) {
	switch r := resp.(type) {
	case FileResponse:
		content := r.Content
		if content == nil {
			content = []byte{}
		}
		return json.Marshal(fileResponseWire{Type: TypeFileResponse, Identifier: &r.Identifier, Content: content})
	case ErrorResponse:
		return json.Marshal(errorResponseWire{Type: TypeErrorResponse, Identifier: &r.Identifier, Message: &r.Message})
	}
	return nil, fmt.Errorf("unsupported response %T", resp)
}

// DecodeResponse parses a response payload by its type tag.
func DecodeResponse(data []byte) (Response, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeFileResponse:
		var w fileResponseWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if w.Identifier == nil {
			return nil, missing("identifier")
		}
		if w.Content == nil {
			return nil, missing("content")
		}
		return FileResponse{Identifier: *w.Identifier, Content: w.Content}, nil

	case TypeErrorResponse:
		var w errorResponseWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if w.Identifier == nil {
			return nil, missing("identifier")
		}
		if w.Message == nil {
			return nil, missing("message")
		}
		return ErrorResponse{Identifier: *w.Identifier, Message: *w.Message}, nil
	}

	return nil, fmt.Errorf("%w: unknown response type %q", ErrMalformed, env.Type)
}

// ReadRequest reads and decodes one request frame. Transport errors are
// returned as is; a frame that fails to decode is reported wrapping
// ErrMalformed so callers can drop it and keep reading.
func ReadRequest(r io.Reader, maxBytes uint32) (Request, error) {
	payload, err := ReadFrame(r, maxBytes)
	if err != nil {
		return nil, err
	}
	return DecodeRequest(payload)
}

// WriteRequest encodes and frames a request.
func WriteRequest(w io.Writer, req Request) error {
	payload, err := EncodeRequest(req)
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}

// ReadResponse reads and decodes one response frame.
func ReadResponse(r io.Reader, maxBytes uint32) (Response, error) {
	payload, err := ReadFrame(r, maxBytes)
	if err != nil {
		return nil, err
	}
	return DecodeResponse(payload)
}

// WriteResponse encodes and frames a response.
func WriteResponse(w io.Writer, resp Response) error {
	payload, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}
