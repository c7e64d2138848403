// Package media ingests uploaded images: decode, scale down to the
// ceiling for the target slot, and re-encode as a JPEG data URI small
// enough to live inside the session document.
package media

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
)

var (
	// ErrUnsupportedFormat means the payload did not decode as png, jpeg
	// or gif.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrTooLarge means the image still exceeded the document ceiling
	// after scaling and re-encoding.
	ErrTooLarge = errors.New("image too large after processing")
)

// Kind selects the scaling ceiling for an upload slot.
type Kind string

const (
	// KindMap is the battle map background.
	KindMap Kind = "map"
	// KindPortrait is a character or monster portrait.
	KindPortrait Kind = "portrait"
)

const (
	mapMaxEdge      = 1280
	portraitMaxEdge = 300
	jpegQuality     = 60

	// Documents are replaced wholesale on every write, so embedded
	// images are capped hard.
	maxEncodedBytes = 900 << 10
)

func (k Kind) maxEdge() int {
	if k == KindPortrait {
		return portraitMaxEdge
	}
	return mapMaxEdge
}

// Ingest reads one image, scales it so its longest edge fits the kind's
// ceiling (never upscaling), and returns it re-encoded as a JPEG data
// URI. Transparency is flattened; the document stores opaque JPEGs only.
func Ingest(r io.Reader, kind Kind) (string, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	scaled := scaleDown(src, kind.maxEdge())

	var buf bytes.Buffer
	buf.WriteString("data:image/jpeg;base64,")
	enc := base64.NewEncoder(base64.StdEncoding, &buf)
	if err := jpeg.Encode(enc, scaled, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("encode image: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encode image: %w", err)
	}
	if buf.Len() > maxEncodedBytes {
		return "", ErrTooLarge
	}
	return buf.String(), nil
}

// scaleDown resizes src so that max(width, height) <= maxEdge, keeping
// the aspect ratio. Images already within the ceiling are returned as
// drawn, untouched in dimensions.
func scaleDown(src image.Image, maxEdge int) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxEdge && h <= maxEdge {
		return src
	}
	if w >= h {
		h = h * maxEdge / w
		w = maxEdge
	} else {
		w = w * maxEdge / h
		h = maxEdge
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}
