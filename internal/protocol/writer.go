package protocol

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

const WRITE_BUFFER_SIZE = 64 * 1024

var crlf = []byte{'\r', '\n'}

// Writer buffers encoded values until Flush.
type Writer struct {
	bw      *bufio.Writer
	scratch []byte
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriterSize(w, WRITE_BUFFER_SIZE)}
}

func (w *Writer) WriteValue(v Value) error {
	// NOTE: bulk payloads are written straight through to avoid copying large values
	if v.kind == KindBulkString {
		w.scratch = appendPrefixedInt(w.scratch[:0], BULK_STRING_PREFIX, int64(len(v.bulk)))
		if _, err := w.bw.Write(w.scratch); err != nil {
			return err
		}
		if _, err := w.bw.Write(v.bulk); err != nil {
			return err
		}
		_, err := w.bw.Write(crlf)
		return err
	}

	w.scratch = AppendValue(w.scratch[:0], v)
	_, err := w.bw.Write(w.scratch)
	if cap(w.scratch) > WRITE_BUFFER_SIZE {
		w.scratch = nil
	}
	return err
}

func (w *Writer) Flush() error {
	return w.bw.Flush()
}

// AppendValue appends the wire encoding of v to dst.
func AppendValue(dst []byte, v Value) []byte {
	switch v.kind {
	case KindSimpleString:
		dst = append(dst, SIMPLE_STRING_PREFIX)
		dst = append(dst, oneLine(v.str)...)
		return append(dst, crlf...)

	case KindError:
		dst = append(dst, ERROR_PREFIX)
		dst = append(dst, oneLine(v.str)...)
		if v.msg != "" {
			dst = append(dst, ' ')
			dst = append(dst, oneLine(v.msg)...)
		}
		return append(dst, crlf...)

	case KindInteger:
		return appendPrefixedInt(dst, INTEGER_PREFIX, v.num)

	case KindBulkString:
		dst = appendPrefixedInt(dst, BULK_STRING_PREFIX, int64(len(v.bulk)))
		dst = append(dst, v.bulk...)
		return append(dst, crlf...)

	case KindNullBulkString:
		return appendPrefixedInt(dst, BULK_STRING_PREFIX, -1)

	case KindArray:
		dst = appendPrefixedInt(dst, ARRAY_PREFIX, int64(len(v.elems)))
		for _, e := range v.elems {
			dst = AppendValue(dst, e)
		}
		return dst

	case KindNullArray:
		return appendPrefixedInt(dst, ARRAY_PREFIX, -1)
	}
	return dst
}

func appendPrefixedInt(dst []byte, prefix byte, n int64) []byte {
	dst = append(dst, prefix)
	dst = strconv.AppendInt(dst, n, 10)
	return append(dst, crlf...)
}

// oneLine keeps simple strings and errors from breaking the framing.
func oneLine(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
