package wal

import "sync"

// bufferPool reuses []byte scratch space for callers that marshal a record
// before handing it to WALWriter.Write, avoiding a fresh allocation per
// record on a hot export/import path.
var bufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 0, 8192)
		return &buf
	},
}

// AcquireBuffer gets a zero-length, pre-allocated buffer from the pool.
func AcquireBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

// ReleaseBuffer resets buf and returns it to the pool.
func ReleaseBuffer(buf *[]byte) {
	*buf = (*buf)[:0]
	bufferPool.Put(buf)
}
