//go:build !arm64

package memory

// x86 keeps the instruction cache coherent with stores. 32-bit ARM hosts are
// not supported by Host yet.
func cacheflush(buf []byte) {}
