package shard

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	errNoCall    = errors.New("missing call wrapper")
	errNotObject = errors.New("top-level value is not an object")
)

// Canonical re-encodes a JSON value compactly, keeping object key order.
// Strings are written with non-ASCII and HTML characters unescaped and
// U+2028/U+2029 escaped, so equal values always produce equal bytes.
func Canonical(raw []byte) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var buf bytes.Buffer
	if err := writeValue(dec, &buf); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after value")
	}
	return buf.Bytes(), nil
}

// Marshal encodes v in canonical form.
func Marshal(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return Canonical(buf.Bytes())
}

func writeValue(dec *json.Decoder, buf *bytes.Buffer) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			buf.WriteByte('{')
			for first := true; dec.More(); first = false {
				if !first {
					buf.WriteByte(',')
				}
				kt, err := dec.Token()
				if err != nil {
					return err
				}
				writeString(buf, kt.(string))
				buf.WriteByte(':')
				if err := writeValue(dec, buf); err != nil {
					return err
				}
			}
			buf.WriteByte('}')
		case '[':
			buf.WriteByte('[')
			for first := true; dec.More(); first = false {
				if !first {
					buf.WriteByte(',')
				}
				if err := writeValue(dec, buf); err != nil {
					return err
				}
			}
			buf.WriteByte(']')
		}
		// closing delimiter
		_, err := dec.Token()
		return err
	case string:
		writeString(buf, v)
	case json.Number:
		buf.WriteString(v.String())
	case bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case nil:
		buf.WriteString("null")
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	buf.Truncate(buf.Len() - 1)
}

// decode parses the content of one shard file.
func decode(data []byte) (*Table, error) {
	body, err := unwrap(data)
	if err != nil {
		return nil, err
	}
	return decodeObject(body)
}

// ParseObject parses a JSON object into a table, keeping key order. Keys
// with null values are dropped.
func ParseObject(raw []byte) (*Table, error) {
	t, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	t.compact()
	return t, nil
}

func decodeObject(body []byte) (*Table, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errNotObject
	}

	t := NewTable()
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key := kt.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("value of %q: %w", key, err)
		}
		if string(raw) == "null" {
			t.put(key, Value{Tombstone: true})
			continue
		}
		canon, err := Canonical(raw)
		if err != nil {
			return nil, fmt.Errorf("value of %q: %w", key, err)
		}
		t.put(key, Value{Raw: canon})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after object")
	}
	return t, nil
}

// unwrap strips leading comments and the call wrapper, returning the
// argument text between the first "(" and the last ")".
func unwrap(data []byte) ([]byte, error) {
	rest := data
	for {
		rest = bytes.TrimLeft(rest, " \t\r\n\ufeff")
		if !bytes.HasPrefix(rest, []byte("/*")) {
			break
		}
		end := bytes.Index(rest[2:], []byte("*/"))
		if end < 0 {
			return nil, errNoCall
		}
		rest = rest[end+4:]
	}

	open := bytes.IndexByte(rest, '(')
	closing := bytes.LastIndexByte(rest, ')')
	if open < 0 || closing < open {
		return nil, errNoCall
	}
	if tail := strings.TrimSpace(string(rest[closing+1:])); tail != "" && tail != ";" {
		return nil, errNoCall
	}
	return rest[open+1 : closing], nil
}

// encode renders a table as one shard file. Values must be canonical.
func encode(f Format, t *Table) []byte {
	var buf bytes.Buffer
	buf.WriteString("/**\n")
	for _, line := range strings.Split(f.Notice, "\n") {
		buf.WriteString(" * ")
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	buf.WriteString(" */\n")
	buf.WriteString(f.Call)
	buf.WriteByte('(')

	n := 0
	t.Range(func(key string, raw json.RawMessage) bool {
		if n == 0 {
			buf.WriteString("{\n")
		} else {
			buf.WriteString(",\n")
		}
		n++
		buf.WriteString(f.Indent)
		writeString(&buf, key)
		buf.WriteString(": ")
		if err := json.Indent(&buf, raw, f.Indent, f.Indent); err != nil {
			buf.Write(raw)
		}
		return true
	})
	if n == 0 {
		buf.WriteString("{}")
	} else {
		buf.WriteString("\n}")
	}

	buf.WriteByte(')')
	return buf.Bytes()
}
