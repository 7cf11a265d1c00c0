// Package exif is a narrow adapter over a small subset of EXIF tags,
// matching spec.md §1's treatment of EXIF parsing as an external
// collaborator referenced only by interface — this is not a full tag
// decoder, only what the metadata endpoint's Summary needs.
//
// Grounded on _examples/original_source/src/exif.rs's ExifData (the
// same tag subset: make, model, software, orientation, f-number, ISO,
// exposure time), using github.com/rwcarlsen/goexif/exif — the Go EXIF
// library present in the wider retrieval pack (perkeep) — rather than
// hand-rolling a TIFF/EXIF tag walker.
package exif

import (
	"bytes"
	"fmt"

	goexif "github.com/rwcarlsen/goexif/exif"
)

// Summary mirrors exif.rs's Data: every field omitted from JSON output
// when absent.
type Summary struct {
	Make         string  `json:"make,omitempty"`
	Model        string  `json:"model,omitempty"`
	Software     string  `json:"software,omitempty"`
	Orientation  uint32  `json:"orientation,omitempty"`
	FNumber      float32 `json:"f_number,omitempty"`
	ISO          uint32  `json:"iso,omitempty"`
	ExposureTime string  `json:"exposure_time,omitempty"`
}

// Read decodes a minimal EXIF summary from buf. A nil Summary and nil
// error indicates buf carried no parseable EXIF data — not an error
// condition, matching exif.rs's ExifData::new returning None.
func Read(buf []byte) (*Summary, error) {
	x, err := goexif.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, nil
	}

	s := &Summary{}
	s.Make = fieldString(x, goexif.Make)
	s.Model = fieldString(x, goexif.Model)
	s.Software = fieldString(x, goexif.Software)
	s.Orientation = fieldUint32(x, goexif.Orientation)
	s.ISO = fieldUint32(x, goexif.ISOSpeedRatings)
	if num, denom, ok := fieldRational(x, goexif.FNumber); ok && denom != 0 {
		s.FNumber = float32(num) / float32(denom)
	}
	if num, denom, ok := fieldRational(x, goexif.ExposureTime); ok {
		s.ExposureTime = fmt.Sprintf("%d/%d", num, denom)
	}

	return s, nil
}

func fieldString(x *goexif.Exif, tag goexif.FieldName) string {
	v, err := x.Get(tag)
	if err != nil {
		return ""
	}
	s, err := v.StringVal()
	if err != nil {
		return ""
	}
	return s
}

func fieldUint32(x *goexif.Exif, tag goexif.FieldName) uint32 {
	v, err := x.Get(tag)
	if err != nil {
		return 0
	}
	i, err := v.Int(0)
	if err != nil {
		return 0
	}
	return uint32(i)
}

func fieldRational(x *goexif.Exif, tag goexif.FieldName) (num, denom int64, ok bool) {
	v, err := x.Get(tag)
	if err != nil || v.Count == 0 {
		return 0, 0, false
	}
	num, denom, err = v.Rat2(0)
	if err != nil {
		return 0, 0, false
	}
	return num, denom, true
}
