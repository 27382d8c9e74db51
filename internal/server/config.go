package server

import "lightcask/internal/store"

type Config struct {
	ListenAddr string
	// MaxConnections caps concurrent clients; 0 means unlimited.
	MaxConnections int
	// MaxBulkSize is the largest bulk string a client may send.
	MaxBulkSize int64
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:     "127.0.0.1:6380",
		MaxConnections: 1024,
		MaxBulkSize:    store.DEFAULT_MAX_VALUE_SIZE,
	}
}
