package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
)

const (
	SIMPLE_STRING_PREFIX = '+'
	ERROR_PREFIX         = '-'
	INTEGER_PREFIX       = ':'
	BULK_STRING_PREFIX   = '$'
	ARRAY_PREFIX         = '*'

	READ_BUFFER_SIZE = 64 * 1024

	// limits applied to untrusted input
	MAX_BULK_SIZE   = 512 * 1024 * 1024
	BULK_CHUNK_SIZE = 64 * 1024
	MAX_ARRAY_ELEMS = 1024 * 1024
	MAX_NESTING     = 32
)

// Reader decodes a stream of RESP values.
type Reader struct {
	br      *bufio.Reader
	maxBulk int64
}

func NewReader(r io.Reader) *Reader {
	if br, ok := r.(*bufio.Reader); ok && br.Size() >= READ_BUFFER_SIZE {
		return &Reader{br: br, maxBulk: MAX_BULK_SIZE}
	}
	return &Reader{br: bufio.NewReaderSize(r, READ_BUFFER_SIZE), maxBulk: MAX_BULK_SIZE}
}

// SetMaxBulkSize lowers the largest bulk string the reader accepts.
// Values outside 1..MAX_BULK_SIZE restore the default.
func (r *Reader) SetMaxBulkSize(n int64) {
	if n <= 0 || n > MAX_BULK_SIZE {
		n = MAX_BULK_SIZE
	}
	r.maxBulk = n
}

// ReadValue decodes the next value. It returns io.EOF only when the stream
// ends cleanly between values; a frame cut short wraps ErrProtocol.
func (r *Reader) ReadValue() (Value, error) {
	if _, err := r.br.Peek(1); err != nil {
		return Value{}, err
	}
	return r.readValue(0)
}

// Buffered is the number of bytes already read from the source but not yet decoded.
func (r *Reader) Buffered() int {
	return r.br.Buffered()
}

func protocolError(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrProtocol, kind, fmt.Sprintf(format, args...))
}

func (r *Reader) readValue(depth int) (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}
	if len(line) == 0 {
		return Value{}, protocolError(ErrUnknownPrefix, "empty line")
	}

	payload := line[1:]
	switch line[0] {
	case SIMPLE_STRING_PREFIX:
		return SimpleString(string(payload)), nil

	case ERROR_PREFIX:
		return ErrorFromString(string(payload)), nil

	case INTEGER_PREFIX:
		n, err := strconv.ParseInt(string(payload), 10, 64)
		if err != nil {
			return Value{}, protocolError(ErrInvalidInteger, "%q", payload)
		}
		return Integer(n), nil

	case BULK_STRING_PREFIX:
		n, err := parseLength(payload, r.maxBulk)
		if err != nil {
			return Value{}, err
		}
		if n < 0 {
			return NullBulkString(), nil
		}
		return r.readBulk(n)

	case ARRAY_PREFIX:
		n, err := parseLength(payload, MAX_ARRAY_ELEMS)
		if err != nil {
			return Value{}, err
		}
		if n < 0 {
			return NullArray(), nil
		}
		if depth >= MAX_NESTING {
			return Value{}, protocolError(ErrFrameTooLarge, "arrays nested deeper than %d", MAX_NESTING)
		}
		return r.readArray(n, depth)

	default:
		return Value{}, protocolError(ErrUnknownPrefix, "%q", line[0])
	}
}

// readLine returns the next line without its CRLF. The slice is valid until the next read.
func (r *Reader) readLine() ([]byte, error) {
	line, err := r.br.ReadSlice('\n')
	switch {
	case errors.Is(err, bufio.ErrBufferFull):
		return nil, protocolError(ErrFrameTooLarge, "line longer than %d bytes", r.br.Size())
	case errors.Is(err, io.EOF):
		return nil, protocolError(ErrUnexpectedEOF, "%q", line)
	case err != nil:
		return nil, err
	}

	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, protocolError(ErrMissingCRLF, "%q", line)
	}
	return line[:len(line)-2], nil
}

// parseLength parses a bulk or array length. -1 means null and is returned as is.
func parseLength(b []byte, max int64) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, protocolError(ErrInvalidLength, "cannot parse length from %q", b)
	}
	if n < -1 {
		return 0, protocolError(ErrInvalidLength, "%d", n)
	}
	if n > max {
		return 0, protocolError(ErrFrameTooLarge, "length %d exceeds %d", n, max)
	}
	return n, nil
}

// readBulk grows its buffer with the bytes received, not the declared length.
func (r *Reader) readBulk(n int64) (Value, error) {
	want := int(n) + 2
	buf := make([]byte, 0, min(want, BULK_CHUNK_SIZE))
	for len(buf) < want {
		chunk := min(want-len(buf), BULK_CHUNK_SIZE)
		buf = slices.Grow(buf, chunk)
		m, err := io.ReadFull(r.br, buf[len(buf):len(buf)+chunk])
		buf = buf[:len(buf)+m]
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Value{}, protocolError(ErrUnexpectedEOF, "bulk string of %d bytes", n)
			}
			return Value{}, err
		}
	}
	if buf[n] != '\r' || buf[n+1] != '\n' {
		return Value{}, protocolError(ErrBulkNotTerminated, "%q", buf[n:])
	}
	return BulkString(buf[:n:n]), nil
}

func (r *Reader) readArray(n int64, depth int) (Value, error) {
	elems := make([]Value, 0, min(n, 1024))
	for i := int64(0); i < n; i++ {
		v, err := r.readValue(depth + 1)
		if err != nil {
			if errors.Is(err, ErrUnexpectedEOF) {
				return Value{}, protocolError(ErrIncompleteArray, "got %d of %d", i, n)
			}
			return Value{}, err
		}
		elems = append(elems, v)
	}
	return Array(elems...), nil
}
