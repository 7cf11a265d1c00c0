package exif

import "testing"

func TestReadReturnsNilWithoutErrorForNonExifData(t *testing.T) {
	summary, err := Read([]byte("not an image at all"))
	if err != nil {
		t.Fatalf("expected nil error for undecodable buffer, got %v", err)
	}
	if summary != nil {
		t.Fatalf("expected nil summary, got %+v", summary)
	}
}
