package thumbhash

import "testing"

func solidImage(w, h int, r, g, b, a byte) []byte {
	buf := make([]byte, w*h*4)
	for i := 0; i < w*h; i++ {
		j := i * 4
		buf[j], buf[j+1], buf[j+2], buf[j+3] = r, g, b, a
	}
	return buf
}

func TestEncodeRejectsMismatchedBufferLength(t *testing.T) {
	if _, err := Encode([]byte{1, 2, 3}, 4, 4); err == nil {
		t.Fatal("expected error for undersized buffer")
	}
}

func TestEncodeRejectsZeroDimensions(t *testing.T) {
	if _, err := Encode(nil, 0, 10); err == nil {
		t.Fatal("expected error for zero width")
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	img := solidImage(8, 8, 200, 100, 50, 255)
	h1, err := Encode(img, 8, 8)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	h2, err := Encode(img, 8, 8)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected deterministic output, got %q then %q", h1, h2)
	}
}

func TestEncodeDiffersForDifferentImages(t *testing.T) {
	a := solidImage(8, 8, 200, 100, 50, 255)
	b := solidImage(8, 8, 10, 10, 10, 255)
	ha, err := Encode(a, 8, 8)
	if err != nil {
		t.Fatalf("Encode a: %v", err)
	}
	hb, err := Encode(b, 8, 8)
	if err != nil {
		t.Fatalf("Encode b: %v", err)
	}
	if ha == hb {
		t.Fatal("expected different hashes for different solid colors")
	}
}

func TestEncodeHandlesAlpha(t *testing.T) {
	img := solidImage(10, 6, 80, 80, 80, 128)
	// mark half the pixels fully transparent so avg alpha < w*h
	for i := 0; i < 30; i++ {
		img[i*4+3] = 0
	}
	if _, err := Encode(img, 10, 6); err != nil {
		t.Fatalf("Encode with alpha: %v", err)
	}
}

func TestEncodeNonSquareAspectRatio(t *testing.T) {
	img := solidImage(40, 10, 1, 2, 3, 255)
	out, err := Encode(img, 40, 10)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if out == "" {
		t.Fatal("expected non-empty hash")
	}
}
