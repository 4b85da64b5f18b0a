package serializer

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	header := http.Header{}
	header.Set("Content-Type", "text/plain")
	header.Add("Set-Cookie", "a=1")
	header.Add("Set-Cookie", "b=2")
	res := New(200, header, []byte("hello world"))

	b, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Unmarshal(b)
	if err != nil {
		t.Fatal(err)
	}

	if decoded.Status != 200 {
		t.Fatalf("status is %d", decoded.Status)
	}
	if !reflect.DeepEqual(decoded.Header, res.Header) {
		t.Fatalf("headers are %v, want %v", decoded.Header, res.Header)
	}
	if string(decoded.Body) != "hello world" {
		t.Fatalf("body is %s", decoded.Body)
	}
}

func TestMarshalUsesTaggedBody(t *testing.T) {
	res := New(200, http.Header{}, []byte{104, 105})
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatal(err)
	}
	if string(raw["body"]) != `{"type":"Buffer","data":[104,105]}` {
		t.Fatalf("body encoding is %s", raw["body"])
	}
}

func TestDecodeTypedValue(t *testing.T) {
	res := New(204, http.Header{}, nil)
	decoded, err := Decode(res)
	if err != nil {
		t.Fatal(err)
	}
	if decoded != res {
		t.Fatal("expected the typed value back")
	}
	if decoded.Body == nil {
		t.Fatal("body must never be nil")
	}
}

func TestDecodeBase64Body(t *testing.T) {
	decoded, err := Unmarshal([]byte(`{"status":200,"headers":{"content-type":"text/plain"},"body":"aGVsbG8="}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded.Body) != "hello" {
		t.Fatalf("body is %s", decoded.Body)
	}
	if decoded.Header.Get("Content-Type") != "text/plain" {
		t.Fatalf("headers are %v", decoded.Header)
	}
}

func TestDecodeHeaderValueForms(t *testing.T) {
	decoded, err := Unmarshal([]byte(`{"status":200,"headers":{"x-one":"a","x-many":["b","c"]},"body":""}`))
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Header.Get("X-One") != "a" {
		t.Fatalf("headers are %v", decoded.Header)
	}
	if got := decoded.Header.Values("X-Many"); len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("multi-value header is %v", got)
	}
}

func TestDecodeRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", `garbage`},
		{"missing status", `{"headers":{},"body":""}`},
		{"status not a number", `{"status":"200","headers":{},"body":""}`},
		{"missing headers", `{"status":200,"body":""}`},
		{"headers not an object", `{"status":200,"headers":[],"body":""}`},
		{"missing body", `{"status":200,"headers":{}}`},
		{"body not an encoding", `{"status":200,"headers":{},"body":42}`},
		{"body bad base64", `{"status":200,"headers":{},"body":"!!!"}`},
		{"tagged body wrong type", `{"status":200,"headers":{},"body":{"type":"Blob","data":[1]}}`},
		{"tagged body byte out of range", `{"status":200,"headers":{},"body":{"type":"Buffer","data":[300]}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tc.data))
			if !errors.Is(err, ErrCacheIntegrity) {
				t.Fatalf("expected integrity error, got %v", err)
			}
		})
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	if _, err := Decode(42); !errors.Is(err, ErrCacheIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
}

func TestSize(t *testing.T) {
	header := http.Header{}
	header.Set("A", "bb")
	res := New(200, header, []byte("hello"))
	// body (5) + header name (1) + header value (2)
	if got := res.Size(); got != 8 {
		t.Fatalf("size is %d", got)
	}
}
