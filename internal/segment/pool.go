package segment

import "sync"

// Buffers above this size are left to the GC instead of being pooled.
const MAX_POOLED_BUFFER = 1024 * 64

var bytePool = sync.Pool{
	New: func() any {
		b := make([]byte, 4096)
		return &b
	},
}

func getBuffer(size int) *[]byte {
	ptr := bytePool.Get().(*[]byte)
	if cap(*ptr) < size {
		b := make([]byte, size)
		return &b
	}
	*ptr = (*ptr)[:size]
	return ptr
}

func putBuffer(ptr *[]byte) {
	if cap(*ptr) > MAX_POOLED_BUFFER {
		return
	}
	bytePool.Put(ptr)
}
