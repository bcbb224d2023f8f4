package optimize

import (
	"unsafe"

	"golang.org/x/sys/cpu"
)

// Wide-load capability detection
var wideLoads bool

func init() {
	// ARMv8 guarantees ASIMD; on x86 anything AVX2- or SSE4.2-class
	// handles the unaligned 8-byte loads below without penalty.
	wideLoads = cpu.ARM64.HasASIMD || cpu.X86.HasAVX2 || cpu.X86.HasSSE42
}

// EqualString compares two strings, taking a word-at-a-time path for
// long inputs on CPUs with cheap unaligned loads.
func EqualString(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) < 16 || !wideLoads {
		return a == b
	}
	return equalWide(a, b)
}

// HasPrefix reports whether s begins with prefix. The hot loop of path
// dispatch lands here, so long prefixes take the wide path too.
func HasPrefix(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	return EqualString(s[:len(prefix)], prefix)
}

// equalWide compares 8 bytes per step. Equality of words is
// endian-independent, so no byte swapping is needed.
func equalWide(a, b string) bool {
	n := len(a)
	pa := unsafe.Pointer(unsafe.StringData(a))
	pb := unsafe.Pointer(unsafe.StringData(b))

	i := 0
	for ; i+8 <= n; i += 8 {
		wa := *(*uint64)(unsafe.Add(pa, i))
		wb := *(*uint64)(unsafe.Add(pb, i))
		if wa != wb {
			return false
		}
	}
	for ; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
