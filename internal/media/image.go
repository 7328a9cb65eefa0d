package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/draw"
	"golang.org/x/image/webp"
)

// ErrNoThumbnail is returned for files that have no pure-Go decoder.
var ErrNoThumbnail = errors.New("no thumbnail for this file type")

// ImageMeta is what a user needs to tell two identical photos apart by
// provenance. Zero fields are omitted.
type ImageMeta struct {
	Width       int        `json:"width,omitempty"`
	Height      int        `json:"height,omitempty"`
	TakenAt     *time.Time `json:"taken_at,omitempty"`
	CameraMake  string     `json:"camera_make,omitempty"`
	CameraModel string     `json:"camera_model,omitempty"`
	Software    string     `json:"software,omitempty"`
	GPSLat      *float64   `json:"gps_lat,omitempty"`
	GPSLon      *float64   `json:"gps_lon,omitempty"`
}

func decoderFor(ext string) func(io.Reader) (image.Image, error) {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return jpeg.Decode
	case ".png":
		return png.Decode
	case ".gif":
		return gif.Decode
	case ".webp":
		return webp.Decode
	}
	return nil
}

func configDecoderFor(ext string) func(io.Reader) (image.Config, error) {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return jpeg.DecodeConfig
	case ".png":
		return png.DecodeConfig
	case ".gif":
		return gif.DecodeConfig
	case ".webp":
		return webp.DecodeConfig
	}
	return nil
}

// ReadImageMeta reads pixel dimensions and EXIF tags from the image at path.
// Missing EXIF data is not an error.
func ReadImageMeta(path string) (ImageMeta, error) {
	var meta ImageMeta
	f, err := os.Open(path)
	if err != nil {
		return meta, err
	}
	defer f.Close()

	if decode := configDecoderFor(filepath.Ext(path)); decode != nil {
		if cfg, err := decode(f); err == nil {
			meta.Width, meta.Height = cfg.Width, cfg.Height
		}
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return meta, fmt.Errorf("rewind %s: %w", path, err)
	}
	x, err := exif.Decode(f)
	if err != nil {
		return meta, nil
	}
	meta.CameraMake = exifString(x, exif.Make)
	meta.CameraModel = exifString(x, exif.Model)
	meta.Software = exifString(x, exif.Software)
	if t, err := x.DateTime(); err == nil {
		meta.TakenAt = &t
	}
	if lat, lon, err := x.LatLong(); err == nil {
		meta.GPSLat, meta.GPSLon = &lat, &lon
	}
	return meta, nil
}

func exifString(x *exif.Exif, field exif.FieldName) string {
	tag, err := x.Get(field)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// Thumbnail renders the image at path as a JPEG no larger than maxW x maxH,
// keeping its aspect ratio. Images that already fit are re-encoded as is.
func Thumbnail(path string, maxW, maxH int) ([]byte, error) {
	decode := decoderFor(filepath.Ext(path))
	if decode == nil {
		return nil, ErrNoThumbnail
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, fit(src, maxW, maxH), &jpeg.Options{Quality: 75}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// fit scales src down into a maxW x maxH box. It never scales up.
func fit(src image.Image, maxW, maxH int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 || (w <= maxW && h <= maxH) {
		return src
	}
	scale := min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	dst := image.NewRGBA(image.Rect(0, 0, max(int(float64(w)*scale), 1), max(int(float64(h)*scale), 1)))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}
