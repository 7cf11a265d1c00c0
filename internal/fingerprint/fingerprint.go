// Package fingerprint derives the canonical identity of a (source URL,
// process options) pair. The same key type is used by MemCache, DiskCache,
// and SingleFlight so a hit, a miss, and an in-flight computation always
// refer to the same logical unit of work.
package fingerprint

import (
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"

	"lukechampine.com/blake3"
)

// OutputFormat is the resolved output encoding. The zero value means
// "unspecified" (let the processor choose).
type OutputFormat string

const (
	FormatNone OutputFormat = ""
	FormatAVIF OutputFormat = "avif"
	FormatJPEG OutputFormat = "jpeg"
	FormatPNG  OutputFormat = "png"
	FormatTIFF OutputFormat = "tiff"
	FormatWEBP OutputFormat = "webp"
)

// Options mirrors spec.md's ProcessOptions. Width, Height, Quality, and
// Blur use 0 to mean "absent" — every valid value in their respective
// ranges excludes 0, so Options stays a plain comparable value (no
// pointers), which Key's use as a map key depends on: Go struct equality
// (==) must match the spec's equal() operation field-for-field, and a
// pointer field would compare identity instead of value.
type Options struct {
	Width   int
	Height  int
	Format  OutputFormat
	Quality int
	Blur    int
}

// Key is the value-typed, equality-comparable, hashable fingerprint.
type Key struct {
	Input string
	Opts  Options
}

// New normalizes raw query-derived values (0 -> absent, quality clamped
// to [1,100]) and returns the resulting Key.
func New(input string, width, height int, format OutputFormat, quality, blur int) Key {
	return Key{
		Input: input,
		Opts: Options{
			Width:   nonNegative(width),
			Height:  nonNegative(height),
			Format:  format,
			Quality: clamp(quality, 1, 100),
			Blur:    nonNegative(blur),
		},
	}
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func clamp(v, lo, hi int) int {
	if v == 0 {
		return 0
	}
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}

// Canonical returns the stable serialization of k: fixed field order,
// absent optional fields omitted entirely (never encoded as a null or
// zero marker). The input is query-escaped so that an input containing
// "&" or "=" cannot mimic an option field. This is what gets hashed, and
// equality is defined over it byte-for-byte.
func Canonical(k Key) []byte {
	var b strings.Builder
	b.WriteString("input=")
	b.WriteString(url.QueryEscape(k.Input))
	if k.Opts.Width != 0 {
		b.WriteString("&width=")
		b.WriteString(strconv.Itoa(k.Opts.Width))
	}
	if k.Opts.Height != 0 {
		b.WriteString("&height=")
		b.WriteString(strconv.Itoa(k.Opts.Height))
	}
	if k.Opts.Format != FormatNone {
		b.WriteString("&format=")
		b.WriteString(string(k.Opts.Format))
	}
	if k.Opts.Quality != 0 {
		b.WriteString("&quality=")
		b.WriteString(strconv.Itoa(k.Opts.Quality))
	}
	if k.Opts.Blur != 0 {
		b.WriteString("&blur=")
		b.WriteString(strconv.Itoa(k.Opts.Blur))
	}
	return []byte(b.String())
}

// Hash returns the lowercase hex BLAKE3-256 digest of Canonical(k). The
// disk cache derives its shard path from this string.
func Hash(k Key) string {
	sum := blake3.Sum256(Canonical(k))
	return hex.EncodeToString(sum[:])
}

// Equal reports whether a and b have byte-equal canonicalizations. For
// Key values this is the same as a == b; Equal exists so callers never
// need to reason about why struct equality is sufficient here.
func Equal(a, b Key) bool {
	return a == b
}

func (k Key) String() string {
	return string(Canonical(k))
}
