// Package imgref provides a cheaply-cloneable, immutable byte buffer
// handle. MemCache entries and single-flight results wrap their encoded
// image bytes in a Ref so cloning a cached value to every concurrent
// waiter is O(1) regardless of image size.
//
// The Rust original gets this for free via bytes::Bytes (an atomically
// refcounted, immutable slice). Go has no stdlib equivalent, so Ref fills
// that one gap — see DESIGN.md.
package imgref

// Ref is an immutable view over a byte slice. Once constructed, the
// underlying bytes are never mutated; callers that need to modify data
// must copy it out first via Bytes().
type Ref struct {
	b []byte
}

// New wraps b. Ownership of b transfers to the Ref; the caller must not
// mutate b afterward.
func New(b []byte) *Ref {
	if b == nil {
		return nil
	}
	return &Ref{b: b}
}

// Bytes returns the underlying slice. Treat it as read-only.
func (r *Ref) Bytes() []byte {
	if r == nil {
		return nil
	}
	return r.b
}

// Len returns the byte length, or 0 for a nil Ref.
func (r *Ref) Len() int {
	if r == nil {
		return 0
	}
	return len(r.b)
}

// Clone returns r itself — sharing, not copying, the backing array. This
// is the "cheap clone" spec.md's ImageOutput and §9's shared-result
// ownership note require.
func (r *Ref) Clone() *Ref {
	return r
}
