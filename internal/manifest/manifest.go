// Package manifest reads batches of run requests for the runscript command.
//
// Two encodings are supported. JSON manifests may be a top-level array of
// request objects, an envelope object whose first array-of-objects field
// holds the requests, a single bare request object, or a stream of JSONL
// objects; trailing JSONL objects after an array or envelope are consumed
// too. CSV manifests carry a header row where the script and url columns
// are reserved and every other column becomes a string option.
package manifest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Request names one script invocation: which script to run, the URL to hand
// it (optional), and the raw option values before validation.
type Request struct {
	Script  string         `json:"script"`
	URL     string         `json:"url,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// ErrStop can be returned by an emit callback to end the stream early
// without surfacing an error to the caller.
var ErrStop = errors.New("manifest: stop")

// StreamJSON decodes run requests from r and calls emit for each one in
// input order. Decoding is streaming: requests are handed off as they are
// read, so arbitrarily large manifests never materialize in memory. The
// first malformed request or decode error ends the stream.
func StreamJSON(ctx context.Context, r io.Reader, emit func(Request) error) error {
	err := streamJSON(ctx, r, emit)
	if errors.Is(err, ErrStop) {
		return nil
	}
	return err
}

func streamJSON(ctx context.Context, r io.Reader, emit func(Request) error) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("manifest: read: %w", err)
	}

	n := 0
	forward := func(req Request) error {
		n++
		if err := ctx.Err(); err != nil {
			return err
		}
		if req.Script == "" {
			return fmt.Errorf("manifest: request %d: missing script", n)
		}
		return emit(req)
	}

	d, ok := tok.(json.Delim)
	if !ok {
		return fmt.Errorf("manifest: top-level value must be an object or array, got %v", tok)
	}

	switch d {
	case '[':
		if err := streamArray(dec, forward); err != nil {
			return err
		}
		if _, err := dec.Token(); err != nil { // closing ']'
			return fmt.Errorf("manifest: read: %w", err)
		}
	case '{':
		if err := streamEnvelope(dec, forward); err != nil {
			return err
		}
		if _, err := dec.Token(); err != nil { // closing '}'
			return fmt.Errorf("manifest: read: %w", err)
		}
	default:
		return fmt.Errorf("manifest: unexpected %v at top level", d)
	}

	// Anything after the root value is treated as JSONL: one request
	// object per decode until the reader runs dry.
	return streamTrailing(dec, forward)
}

// streamArray decodes request objects from an open JSON array. The caller
// has already consumed the '[' delimiter and consumes the closing ']'.
// Null elements are skipped.
func streamArray(dec *json.Decoder, forward func(Request) error) error {
	for dec.More() {
		var req *Request
		if err := dec.Decode(&req); err != nil {
			return fmt.Errorf("manifest: decode request: %w", err)
		}
		if req == nil {
			continue
		}
		if err := forward(*req); err != nil {
			return err
		}
	}
	return nil
}

// streamEnvelope walks the fields of an open root object. The first field
// holding an array of objects is streamed as the request list and the
// remaining fields are skipped. When no such field exists the object itself
// is treated as a single bare request.
func streamEnvelope(dec *json.Decoder, forward func(Request) error) error {
	bare := map[string]any{}
	streamed := false

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("manifest: read: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("manifest: object key expected, got %v", keyTok)
		}

		if streamed {
			if err := skipValue(dec); err != nil {
				return err
			}
			continue
		}

		valTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("manifest: read %q: %w", key, err)
		}

		if d, isDelim := valTok.(json.Delim); isDelim && d == '[' {
			isList, arr, err := streamRequestList(dec, forward)
			if err != nil {
				return err
			}
			if isList {
				streamed = true
			} else {
				bare[key] = arr
			}
			continue
		}

		val, err := materializeValue(dec, valTok)
		if err != nil {
			return fmt.Errorf("manifest: read %q: %w", key, err)
		}
		bare[key] = val
	}

	if streamed || len(bare) == 0 {
		return nil
	}
	return forward(requestFromMap(bare))
}

// streamRequestList inspects an open array. Arrays whose elements are
// objects stream as requests and report isList; anything else is drained
// into a plain slice so the caller can keep it as an envelope field. The
// closing ']' is consumed either way.
func streamRequestList(dec *json.Decoder, forward func(Request) error) (isList bool, arr []any, err error) {
	if !dec.More() {
		if _, err := dec.Token(); err != nil { // closing ']'
			return false, nil, fmt.Errorf("manifest: read: %w", err)
		}
		return true, nil, nil
	}

	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return false, nil, fmt.Errorf("manifest: decode request: %w", err)
	}

	if firstByte(raw) != '{' {
		v, err := decodeAny(raw)
		if err != nil {
			return false, nil, fmt.Errorf("manifest: decode: %w", err)
		}
		arr = append(arr, v)
		for dec.More() {
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return false, nil, fmt.Errorf("manifest: decode: %w", err)
			}
			v, err := decodeAny(raw)
			if err != nil {
				return false, nil, fmt.Errorf("manifest: decode: %w", err)
			}
			arr = append(arr, v)
		}
		if _, err := dec.Token(); err != nil { // closing ']'
			return false, nil, fmt.Errorf("manifest: read: %w", err)
		}
		return false, arr, nil
	}

	req, err := decodeRequest(raw)
	if err != nil {
		return false, nil, fmt.Errorf("manifest: decode request: %w", err)
	}
	if err := forward(req); err != nil {
		return false, nil, err
	}
	if err := streamArray(dec, forward); err != nil {
		return false, nil, err
	}
	if _, err := dec.Token(); err != nil { // closing ']'
		return false, nil, fmt.Errorf("manifest: read: %w", err)
	}
	return true, nil, nil
}

// streamTrailing consumes bare request objects appearing after the root
// value, one JSON value at a time.
func streamTrailing(dec *json.Decoder, forward func(Request) error) error {
	for {
		var req *Request
		err := dec.Decode(&req)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("manifest: decode trailing request: %w", err)
		}
		if req == nil {
			continue
		}
		if err := forward(*req); err != nil {
			return err
		}
	}
}

// skipValue discards the next complete JSON value from the decoder.
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("manifest: read: %w", err)
	}
	_, err = materializeValue(dec, tok)
	return err
}

// materializeValue rebuilds the JSON value whose first token has already
// been consumed. Scalars come back as-is; for composites the remaining
// tokens are drained into plain maps and slices.
func materializeValue(dec *json.Decoder, first json.Token) (any, error) {
	d, ok := first.(json.Delim)
	if !ok {
		return first, nil
	}

	switch d {
	case '{':
		obj := map[string]any{}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, _ := keyTok.(string)
			valTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			val, err := materializeValue(dec, valTok)
			if err != nil {
				return nil, err
			}
			obj[key] = val
		}
		if _, err := dec.Token(); err != nil { // closing '}'
			return nil, err
		}
		return obj, nil
	case '[':
		var arr []any
		for dec.More() {
			valTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			val, err := materializeValue(dec, valTok)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
		}
		if _, err := dec.Token(); err != nil { // closing ']'
			return nil, err
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("manifest: unexpected delimiter %v", d)
	}
}

// decodeRequest unmarshals one raw request with the same number handling as
// the streaming path, so option values stay json.Number either way.
func decodeRequest(raw json.RawMessage) (Request, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var req Request
	err := dec.Decode(&req)
	return req, err
}

func decodeAny(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	err := dec.Decode(&v)
	return v, err
}

func firstByte(raw json.RawMessage) byte {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b
	}
	return 0
}

// requestFromMap lifts a bare decoded object into a Request. Keys other
// than script, url and options are ignored rather than treated as options
// so that envelope metadata fields stay inert.
func requestFromMap(obj map[string]any) Request {
	req := Request{}
	if s, ok := obj["script"].(string); ok {
		req.Script = s
	}
	if s, ok := obj["url"].(string); ok {
		req.URL = s
	}
	if m, ok := obj["options"].(map[string]any); ok {
		req.Options = m
	}
	return req
}

// StreamCSV decodes run requests from CSV. The first row is the header;
// the script and url columns fill the corresponding Request fields and
// every other column becomes a string option named after its header. Empty
// cells produce no option so that script defaults still apply.
func StreamCSV(ctx context.Context, r io.Reader, emit func(Request) error) error {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("manifest: read csv header: %w", err)
	}

	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = strings.ToLower(strings.TrimSpace(h))
	}

	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		line++
		if err != nil {
			return fmt.Errorf("manifest: csv line %d: %w", line, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		req := Request{}
		for i, cell := range rec {
			if i >= len(cols) {
				break
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			switch cols[i] {
			case "script":
				req.Script = cell
			case "url":
				req.URL = cell
			case "":
			default:
				if req.Options == nil {
					req.Options = map[string]any{}
				}
				req.Options[cols[i]] = cell
			}
		}
		if req.Script == "" {
			return fmt.Errorf("manifest: csv line %d: missing script", line)
		}
		if err := emit(req); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
}

// Stream picks the decoder from the first non-space byte: '{' or '[' means
// JSON, anything else is CSV.
func Stream(ctx context.Context, r io.Reader, emit func(Request) error) error {
	br := bufio.NewReader(r)
	for {
		b, err := br.ReadByte()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("manifest: read: %w", err)
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		if err := br.UnreadByte(); err != nil {
			return fmt.Errorf("manifest: read: %w", err)
		}
		if b == '{' || b == '[' {
			return StreamJSON(ctx, br, emit)
		}
		return StreamCSV(ctx, br, emit)
	}
}
