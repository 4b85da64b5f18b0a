package serializer

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrCacheIntegrity marks a stored value that does not decode into a
// valid response. A request hitting such a value must be answered with
// the failure response, never with the corrupt data.
var ErrCacheIntegrity = errors.New("stored response is corrupt")

// Response is one cacheable HTTP exchange result: status, headers and
// body. It is constructed once, when an upstream response completes and
// is judged cacheable, and never mutated afterwards.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// New constructs a Response, cloning the header so later mutation of the
// source cannot reach the cached copy. A nil body is stored as empty.
func New(status int, header http.Header, body []byte) *Response {
	h := make(http.Header, len(header))
	for name, values := range header {
		for _, v := range values {
			h.Add(name, v)
		}
	}
	if body == nil {
		body = []byte{}
	}
	return &Response{Status: status, Header: h, Body: body}
}

// Size returns the byte size used for cache accounting: the body plus
// the header names and values.
func (r *Response) Size() int64 {
	size := int64(len(r.Body))
	for name, values := range r.Header {
		for _, v := range values {
			size += int64(len(name) + len(v))
		}
	}
	return size
}

// MarshalJSON encodes the response as
// {"status":n,"headers":{...},"body":{"type":"Buffer","data":[...]}}.
func (r *Response) MarshalJSON() ([]byte, error) {
	data := make([]int, len(r.Body))
	for i, b := range r.Body {
		data[i] = int(b)
	}
	return json.Marshal(struct {
		Status  int                 `json:"status"`
		Headers map[string][]string `json:"headers"`
		Body    struct {
			Type string `json:"type"`
			Data []int  `json:"data"`
		} `json:"body"`
	}{
		Status:  r.Status,
		Headers: r.Header,
		Body: struct {
			Type string `json:"type"`
			Data []int  `json:"data"`
		}{Type: "Buffer", Data: data},
	})
}

// Decode converts a cached value into a Response. It accepts either an
// already-typed *Response (in-memory store) or serialized JSON bytes
// (persisting store). Anything else is a cache-integrity error.
func Decode(v any) (*Response, error) {
	switch val := v.(type) {
	case *Response:
		return val, nil
	case []byte:
		return Unmarshal(val)
	default:
		return nil, fmt.Errorf("%w: unexpected value type %T", ErrCacheIntegrity, v)
	}
}

// Unmarshal decodes serialized response bytes. The body is accepted
// either as a base64 string or as a tagged byte-array object; an object
// missing a numeric status, a headers object, or a recognizable body
// encoding is rejected with ErrCacheIntegrity.
func Unmarshal(b []byte) (*Response, error) {
	var raw struct {
		Status  *int                       `json:"status"`
		Headers map[string]json.RawMessage `json:"headers"`
		Body    json.RawMessage            `json:"body"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheIntegrity, err)
	}
	if raw.Status == nil || *raw.Status <= 0 {
		return nil, fmt.Errorf("%w: missing or invalid status", ErrCacheIntegrity)
	}
	if raw.Headers == nil {
		return nil, fmt.Errorf("%w: missing headers", ErrCacheIntegrity)
	}
	header := make(http.Header, len(raw.Headers))
	for name, value := range raw.Headers {
		if name == "" {
			return nil, fmt.Errorf("%w: empty header name", ErrCacheIntegrity)
		}
		values, err := headerValues(value)
		if err != nil {
			return nil, err
		}
		for _, v := range values {
			header.Add(name, v)
		}
	}
	body, err := decodeBody(raw.Body)
	if err != nil {
		return nil, err
	}
	return &Response{Status: *raw.Status, Header: header, Body: body}, nil
}

// headerValues accepts a header value encoded as either a single string
// or an array of strings.
func headerValues(raw json.RawMessage) ([]string, error) {
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}, nil
	}
	return nil, fmt.Errorf("%w: invalid header value %s", ErrCacheIntegrity, raw)
}

func decodeBody(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: missing body", ErrCacheIntegrity)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		body, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid body encoding: %v", ErrCacheIntegrity, err)
		}
		return body, nil
	}
	var tagged struct {
		Type string `json:"type"`
		Data []int  `json:"data"`
	}
	if err := json.Unmarshal(raw, &tagged); err != nil || tagged.Type != "Buffer" || tagged.Data == nil {
		return nil, fmt.Errorf("%w: unrecognized body encoding", ErrCacheIntegrity)
	}
	body := make([]byte, len(tagged.Data))
	for i, n := range tagged.Data {
		if n < 0 || n > 255 {
			return nil, fmt.Errorf("%w: body byte out of range", ErrCacheIntegrity)
		}
		body[i] = byte(n)
	}
	return body, nil
}
