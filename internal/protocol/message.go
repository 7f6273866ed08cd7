package protocol

import (
	"encoding/json"
	"strings"
)

// FrameDelimiter terminates every client->server frame
const FrameDelimiter byte = '\n'

// Request types understood by the server (matched case-insensitively)
const (
	TypeLogin  = "login"
	TypeStatus = "status"
	TypeEcho   = "echo"
	TypeSearch = "search"
	TypeSave   = "save"
	TypeList   = "list"
)

type Request struct {
	Type string           `json:"type"` // routing key
	Data map[string]Value `json:"data"` // handler-specific payload
}

// NormalizedType is the routing key: trimmed and lower-cased
func (r Request) NormalizedType() string {
	return strings.ToLower(strings.TrimSpace(r.Type))
}

// Field returns a data value, treating an explicit JSON null like an absent key
func (r Request) Field(key string) (Value, bool) {
	v, ok := r.Data[key]
	if !ok || v.IsNull() {
		return Value{}, false
	}
	return v, true
}

type Response struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Data    map[string]Value `json:"data"`
}

func OK(message string) Response {
	return Response{Success: true, Message: message, Data: map[string]Value{}}
}

func Fail(message string) Response {
	return Response{Success: false, Message: message, Data: map[string]Value{}}
}

// WithData replaces the payload; nil becomes an empty map
func (r Response) WithData(data map[string]Value) Response {
	if data == nil {
		data = map[string]Value{}
	}
	r.Data = data
	return r
}

// Encode serialises the response. Data is always written as an object.
func (r Response) Encode() ([]byte, error) {
	if r.Data == nil {
		r.Data = map[string]Value{}
	}
	return json.Marshal(r)
}

// ParseStatus is the outcome of ParseRequest
type ParseStatus int

const (
	Parsed    ParseStatus = iota // well-formed request with a type
	Malformed                    // body is not a JSON request object
	Untyped                      // JSON is fine but type is null, blank or missing
)

func (s ParseStatus) String() string {
	switch s {
	case Parsed:
		return "parsed"
	case Malformed:
		return "malformed"
	case Untyped:
		return "untyped"
	}
	return "unknown"
}

type ParseResult struct {
	Status  ParseStatus
	Request Request
	Err     error // set when Status == Malformed
}

// ParseRequest decodes one frame. The trailing delimiter may still be
// attached; JSON treats it as whitespace.
func ParseRequest(frame []byte) ParseResult {
	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		return ParseResult{Status: Malformed, Err: err}
	}
	if strings.TrimSpace(req.Type) == "" {
		return ParseResult{Status: Untyped, Request: req}
	}
	if req.Data == nil {
		req.Data = map[string]Value{}
	}
	return ParseResult{Status: Parsed, Request: req}
}

// IsNoop reports whether a frame carries nothing: empty or all zero bytes
// once the delimiter is ignored.
func IsNoop(frame []byte) bool {
	if n := len(frame); n > 0 && frame[n-1] == FrameDelimiter {
		frame = frame[:n-1]
	}
	for _, b := range frame {
		if b != 0 {
			return false
		}
	}
	return true
}

// EncodeRequest builds a client frame, delimiter included
func EncodeRequest(req Request) ([]byte, error) {
	if req.Data == nil {
		req.Data = map[string]Value{}
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return append(raw, FrameDelimiter), nil
}
