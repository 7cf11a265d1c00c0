package processor

import (
	"testing"

	"github.com/imaged/imaged-go/internal/fingerprint"
)

func TestDefaultQuality(t *testing.T) {
	cases := []struct {
		format fingerprint.OutputFormat
		want   int
	}{
		{fingerprint.FormatAVIF, 50},
		{fingerprint.FormatJPEG, 75},
		{fingerprint.FormatPNG, 75},
		{fingerprint.FormatTIFF, 75},
		{fingerprint.FormatWEBP, 75},
	}
	for _, c := range cases {
		if got := DefaultQuality(c.format); got != c.want {
			t.Errorf("DefaultQuality(%s) = %d, want %d", c.format, got, c.want)
		}
	}
}

func TestDetectFormatJPEG(t *testing.T) {
	buf := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, make([]byte, 20)...)
	got, err := DetectFormat(buf)
	if err != nil || got != fingerprint.FormatJPEG {
		t.Fatalf("got (%s, %v), want (jpeg, nil)", got, err)
	}
}

func TestDetectFormatPNG(t *testing.T) {
	buf := append([]byte{0x89, 0x50, 0x4E, 0x47}, make([]byte, 20)...)
	got, err := DetectFormat(buf)
	if err != nil || got != fingerprint.FormatPNG {
		t.Fatalf("got (%s, %v), want (png, nil)", got, err)
	}
}

func TestDetectFormatTIFF(t *testing.T) {
	le := append([]byte{0x49, 0x49, 0x2A, 0x00}, make([]byte, 20)...)
	if got, err := DetectFormat(le); err != nil || got != fingerprint.FormatTIFF {
		t.Fatalf("little-endian TIFF: got (%s, %v)", got, err)
	}
	be := append([]byte{0x4D, 0x4D, 0x00, 0x2A}, make([]byte, 20)...)
	if got, err := DetectFormat(be); err != nil || got != fingerprint.FormatTIFF {
		t.Fatalf("big-endian TIFF: got (%s, %v)", got, err)
	}
}

func TestDetectFormatWebP(t *testing.T) {
	buf := make([]byte, 20)
	copy(buf[0:4], "RIFF")
	copy(buf[8:12], "WEBP")
	got, err := DetectFormat(buf)
	if err != nil || got != fingerprint.FormatWEBP {
		t.Fatalf("got (%s, %v), want (webp, nil)", got, err)
	}
}

func TestDetectFormatAVIF(t *testing.T) {
	buf := make([]byte, 20)
	copy(buf[4:12], "ftypavif")
	got, err := DetectFormat(buf)
	if err != nil || got != fingerprint.FormatAVIF {
		t.Fatalf("got (%s, %v), want (avif, nil)", got, err)
	}
}

func TestDetectFormatRejectsUnknown(t *testing.T) {
	buf := make([]byte, 20)
	if _, err := DetectFormat(buf); err == nil {
		t.Fatal("expected error for unrecognized magic bytes")
	}
}

func TestDetectFormatRejectsTooShort(t *testing.T) {
	if _, err := DetectFormat([]byte{0xFF, 0xD8}); err == nil {
		t.Fatal("expected error for too-short buffer")
	}
}
