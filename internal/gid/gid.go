// Package gid resolves the id of the calling goroutine. Worker goroutines
// are locked to their OS thread for life, so the goroutine id doubles as a
// stable thread identity for the current-worker registry.
package gid

import (
	"bytes"
	"runtime"
	"strconv"
)

var prefix = []byte("goroutine ")

// Get returns the runtime id of the calling goroutine. It parses the
// header of a single-goroutine stack dump; the format is stable across Go
// releases ("goroutine <id> [<state>]:").
func Get() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, prefix)
	i := bytes.IndexByte(buf, ' ')
	if i < 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(buf[:i]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
