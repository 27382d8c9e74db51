// Package protocol implements the REdis Serialization Protocol (RESP2):
// the value model, a streaming reader and a buffered writer.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindSimpleString Kind = iota
	KindError
	KindInteger
	KindBulkString
	KindNullBulkString
	KindArray
	KindNullArray
)

func (k Kind) String() string {
	switch k {
	case KindSimpleString:
		return "simple-string"
	case KindError:
		return "error"
	case KindInteger:
		return "integer"
	case KindBulkString:
		return "bulk-string"
	case KindNullBulkString:
		return "null-bulk-string"
	case KindArray:
		return "array"
	case KindNullArray:
		return "null-array"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

const DEFAULT_ERROR_NAME = "ERR"

// Value is one RESP value. The zero Value is a simple string "".
type Value struct {
	kind  Kind
	str   string // simple string, or error name
	msg   string // error message
	num   int64
	bulk  []byte
	elems []Value
}

func SimpleString(s string) Value {
	return Value{kind: KindSimpleString, str: s}
}

// Error builds an error reply; an empty name becomes ERR.
func Error(name, msg string) Value {
	if name == "" {
		name = DEFAULT_ERROR_NAME
	}
	return Value{kind: KindError, str: name, msg: msg}
}

// ErrorFromString splits "NAME message" at the first whitespace.
// Text without whitespace is treated as the message of an ERR.
func ErrorFromString(s string) Value {
	idx := strings.IndexFunc(s, isSpace)
	if idx < 0 {
		return Error(DEFAULT_ERROR_NAME, s)
	}
	return Error(s[:idx], s[idx+1:])
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

func Integer(i int64) Value {
	return Value{kind: KindInteger, num: i}
}

// BulkString wraps b without copying. A nil b is an empty bulk string, not null.
func BulkString(b []byte) Value {
	if b == nil {
		b = []byte{}
	}
	return Value{kind: KindBulkString, bulk: b}
}

func NullBulkString() Value {
	return Value{kind: KindNullBulkString}
}

func Array(vs ...Value) Value {
	if vs == nil {
		vs = []Value{}
	}
	return Value{kind: KindArray, elems: vs}
}

func NullArray() Value {
	return Value{kind: KindNullArray}
}

func (v Value) Kind() Kind {
	return v.kind
}

// Str returns the text of a simple string.
func (v Value) Str() string {
	return v.str
}

func (v Value) ErrName() string {
	if v.kind != KindError {
		return ""
	}
	return v.str
}

func (v Value) ErrMsg() string {
	return v.msg
}

func (v Value) Int() int64 {
	return v.num
}

// Bytes returns the payload of a bulk string, nil for any other kind.
func (v Value) Bytes() []byte {
	return v.bulk
}

func (v Value) Elems() []Value {
	return v.elems
}

func (v Value) IsNull() bool {
	return v.kind == KindNullBulkString || v.kind == KindNullArray
}

func (v Value) IsError() bool {
	return v.kind == KindError
}

// String renders v for logs and the CLI.
func (v Value) String() string {
	switch v.kind {
	case KindSimpleString:
		return v.str
	case KindError:
		return "(error) " + v.str + " " + v.msg
	case KindInteger:
		return "(integer) " + strconv.FormatInt(v.num, 10)
	case KindBulkString:
		return strconv.Quote(string(v.bulk))
	case KindNullBulkString, KindNullArray:
		return "(nil)"
	case KindArray:
		if len(v.elems) == 0 {
			return "(empty array)"
		}
		var sb strings.Builder
		for i, e := range v.elems {
			if i > 0 {
				sb.WriteByte('\n')
			}
			fmt.Fprintf(&sb, "%d) %s", i+1, e.String())
		}
		return sb.String()
	default:
		return v.kind.String()
	}
}
