// Package storage keeps profile photos in an S3-compatible bucket.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/disintegration/imaging"
)

var (
	ErrTooLarge = errors.New("photo exceeds the size limit")
	ErrNotImage = errors.New("photo is not a supported image")
)

// NormalizePhoto reads at most maxBytes from r, decodes it and returns a
// size x size JPEG cropped around the centre.
func NormalizePhoto(r io.Reader, maxBytes int64, size int) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read photo: %w", err)
	}
	if int64(len(raw)) > maxBytes {
		return nil, ErrTooLarge
	}
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, ErrNotImage
	}
	square := imaging.Fill(img, size, size, imaging.Center, imaging.Lanczos)
	var out bytes.Buffer
	if err := imaging.Encode(&out, square, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode photo: %w", err)
	}
	return out.Bytes(), nil
}
