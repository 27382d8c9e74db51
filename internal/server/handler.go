package server

import (
	"errors"
	"fmt"
	"strings"

	"lightcask/internal/protocol"
	"lightcask/internal/store"
)

type command struct {
	// arity counts the command name; a negative arity is a minimum.
	arity   int
	handler func(s *Server, args [][]byte) protocol.Value
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"PING":    {arity: -1, handler: (*Server).handlePing},
		"ECHO":    {arity: 2, handler: (*Server).handleEcho},
		"GET":     {arity: 2, handler: (*Server).handleGet},
		"SET":     {arity: 3, handler: (*Server).handleSet},
		"DEL":     {arity: -2, handler: (*Server).handleDel},
		"EXISTS":  {arity: -2, handler: (*Server).handleExists},
		"DBSIZE":  {arity: 1, handler: (*Server).handleDBSize},
		"COMPACT": {arity: 1, handler: (*Server).handleCompact},
		"INFO":    {arity: -1, handler: (*Server).handleInfo},
		"COMMAND": {arity: -1, handler: (*Server).handleCommand},
	}
}

// handleRequest executes one request. The bool asks the caller to close the connection.
func (s *Server) handleRequest(req protocol.Value) (protocol.Value, bool) {
	args, err := commandArgs(req)
	if err != nil {
		return protocol.Error("ERR", "Protocol error: "+err.Error()), true
	}

	name := strings.ToUpper(string(args[0]))
	if name == "QUIT" {
		return protocol.SimpleString("OK"), true
	}

	cmd, ok := commands[name]
	if !ok {
		return protocol.Error("ERR", fmt.Sprintf("unknown command '%s'", args[0])), false
	}
	if (cmd.arity > 0 && len(args) != cmd.arity) || (cmd.arity < 0 && len(args) < -cmd.arity) {
		return protocol.Error("ERR", fmt.Sprintf("wrong number of arguments for '%s' command", strings.ToLower(name))), false
	}

	return cmd.handler(s, args), false
}

// commandArgs unpacks a request, which must be a non-empty array of bulk strings.
func commandArgs(req protocol.Value) ([][]byte, error) {
	if req.Kind() != protocol.KindArray || len(req.Elems()) == 0 {
		return nil, fmt.Errorf("expected a non-empty array of bulk strings, got %s", req.Kind())
	}
	args := make([][]byte, len(req.Elems()))
	for i, e := range req.Elems() {
		if e.Kind() != protocol.KindBulkString {
			return nil, fmt.Errorf("expected bulk string argument, got %s", e.Kind())
		}
		args[i] = e.Bytes()
	}
	return args, nil
}

// errorReply maps store errors onto RESP error names.
func (s *Server) errorReply(err error) protocol.Value {
	switch {
	case errors.Is(err, store.ErrCorrupt):
		s.logger.Error("corruption detected", "error", err)
		return protocol.Error("CORRUPT", err.Error())
	default:
		return protocol.Error("ERR", err.Error())
	}
}

func (s *Server) handlePing(args [][]byte) protocol.Value {
	switch len(args) {
	case 1:
		return protocol.SimpleString("PONG")
	case 2:
		return protocol.BulkString(args[1])
	default:
		return protocol.Error("ERR", "wrong number of arguments for 'ping' command")
	}
}

func (s *Server) handleEcho(args [][]byte) protocol.Value {
	return protocol.BulkString(args[1])
}

func (s *Server) handleGet(args [][]byte) protocol.Value {
	value, err := s.kv.Get(args[1])
	if errors.Is(err, store.ErrNotFound) {
		return protocol.NullBulkString()
	}
	if err != nil {
		return s.errorReply(err)
	}
	return protocol.BulkString(value)
}

func (s *Server) handleSet(args [][]byte) protocol.Value {
	if err := s.kv.Put(args[1], args[2]); err != nil {
		return s.errorReply(err)
	}
	return protocol.SimpleString("OK")
}

// handleDel replies with the number of keys that existed. Absent keys are not written.
func (s *Server) handleDel(args [][]byte) protocol.Value {
	var removed int64
	for _, key := range args[1:] {
		ok, err := s.kv.Has(key)
		if err != nil {
			return s.errorReply(err)
		}
		if !ok {
			continue
		}
		if err := s.kv.Delete(key); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return s.errorReply(err)
		}
		removed++
	}
	return protocol.Integer(removed)
}

func (s *Server) handleExists(args [][]byte) protocol.Value {
	var found int64
	for _, key := range args[1:] {
		ok, err := s.kv.Has(key)
		if err != nil {
			return s.errorReply(err)
		}
		if ok {
			found++
		}
	}
	return protocol.Integer(found)
}

func (s *Server) handleDBSize(args [][]byte) protocol.Value {
	return protocol.Integer(int64(s.kv.Len()))
}

func (s *Server) handleCompact(args [][]byte) protocol.Value {
	if err := s.kv.Compact(); err != nil {
		return s.errorReply(err)
	}
	return protocol.SimpleString("OK")
}

func (s *Server) handleInfo(args [][]byte) protocol.Value {
	st := s.kv.Stats()

	var sb strings.Builder
	sb.WriteString("# Keyspace\r\n")
	fmt.Fprintf(&sb, "keys:%d\r\n", st.Keys)
	sb.WriteString("# Storage\r\n")
	fmt.Fprintf(&sb, "segments:%d\r\n", st.Segments)
	fmt.Fprintf(&sb, "active_segment:%d\r\n", st.ActiveSegment)
	fmt.Fprintf(&sb, "live_bytes:%d\r\n", st.LiveBytes)
	fmt.Fprintf(&sb, "total_bytes:%d\r\n", st.TotalBytes)
	fmt.Fprintf(&sb, "stale_bytes:%d\r\n", st.StaleBytes())
	return protocol.BulkString([]byte(sb.String()))
}

// handleCommand exists so redis-cli can connect; it advertises nothing.
func (s *Server) handleCommand(args [][]byte) protocol.Value {
	return protocol.Array()
}
