// Package unsafehelpers centralizes all unavoidable use of the unsafe
// package so the rest of tricache stays clean and easy to audit. Every
// helper documents its pre/post-conditions.
//
// These helpers deliberately break the Go memory-safety model for
// zero-allocation conversions. Use only inside this repository; they are
// not part of the public API and may change without notice. Misuse leads
// to data races or corrupted memory.
package unsafehelpers

import "unsafe"

// BytesToString converts a mutable byte slice to an immutable string
// without allocating. The caller must guarantee that b is never modified
// for the lifetime of the resulting string.
func BytesToString(b []byte) string {
	return unsafe.String(&b[0], len(b))
}

// StringToBytes reinterprets string data as a byte slice. The slice must
// remain read-only; writing to it mutates immutable string storage.
func StringToBytes(s string) []byte {
	strHdr := (*[2]uintptr)(unsafe.Pointer(&s))
	return unsafe.Slice((*byte)(unsafe.Pointer(strHdr[0])), strHdr[1])
}

// PtrSlice converts an arbitrary *T pointer plus element count into a []T
// without copying. The slice is still backed by whatever memory ptr points
// into, so the usual lifetime rules for that memory still apply.
func PtrSlice[T any](ptr *T, n int) []T {
	if n == 0 {
		return nil
	}
	return unsafe.Slice(ptr, n)
}

// ByteSliceFrom returns a []byte view of raw memory starting at ptr with
// the given length. The caller must ensure the memory block is at least
// length bytes.
func ByteSliceFrom(ptr unsafe.Pointer, length uintptr) []byte {
	return unsafe.Slice((*byte)(ptr), length)
}

// AlignUp rounds x up to the nearest multiple of align, which must be a
// power of two.
func AlignUp(x, align uintptr) uintptr {
	return (x + align - 1) &^ (align - 1)
}

// IsPowerOfTwo returns true if x is a power of two (exactly one bit set).
func IsPowerOfTwo(x uintptr) bool {
	return x != 0 && (x&(x-1)) == 0
}

// ReadAt reinterprets the bytes of b at offset as a T and copies them out.
// Caller must ensure offset+sizeof(T) <= len(b) and that offset satisfies
// T's alignment; ReadAt itself does no bounds or alignment checking, by
// design, so the one unsafe cast in tricache's Get[T] stays here instead of
// spreading into pkg/tricache.
func ReadAt[T any](b []byte, offset uintptr) T {
	return *(*T)(unsafe.Pointer(&b[offset]))
}

// WriteAt is ReadAt's write-side counterpart: it stores v into b at offset,
// under the same caller-supplied bounds/alignment guarantee.
func WriteAt[T any](b []byte, offset uintptr, v T) {
	*(*T)(unsafe.Pointer(&b[offset])) = v
}

// SizeOf reports sizeof(T), letting callers validate an offset/bounds
// without importing unsafe themselves.
func SizeOf[T any]() uintptr {
	var zero T
	return unsafe.Sizeof(zero)
}
