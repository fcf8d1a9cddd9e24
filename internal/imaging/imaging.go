// Package imaging turns image payloads from the wire into bitmaps.
// Payloads are either raw encoded images or Base64 text; the first 32
// bytes decide which.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"

	// Registered decoders. image.Decode picks by magic bytes.
	_ "image/gif"
	_ "image/jpeg"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	// sniffLen is how many leading bytes the Base64 heuristic inspects.
	sniffLen = 32

	// maxPixels rejects images whose header claims absurd dimensions
	// before any pixel data is allocated.
	maxPixels = 40_000_000
)

var (
	ErrEmpty     = errors.New("imaging: empty payload")
	ErrTooLarge  = errors.New("imaging: image dimensions too large")
	ErrUndecoded = errors.New("imaging: payload is not a supported image")
)

// LooksLikeBase64 reports whether every one of the first (up to) 32
// bytes is printable ASCII.
func LooksLikeBase64(data []byte) bool {
	if len(data) == 0 {
		return false
	}

	for _, b := range data[:min(sniffLen, len(data))] {
		if b < 0x20 || b > 0x7e {
			return false
		}
	}

	return true
}

// Normalize returns the encoded image bytes. Base64 text is decoded;
// anything else, including text that fails to decode, is returned as is.
func Normalize(data []byte) []byte {
	if !LooksLikeBase64(data) {
		return data
	}

	if decoded, ok := decodeBase64(data); ok {
		return decoded
	}

	return data
}

// IconPNG returns data as PNG bytes for the icon cache. PNG payloads
// pass through unchanged and other decodable formats are re-encoded.
// Payloads that do not decode are returned as Normalize leaves them.
func IconPNG(data []byte) []byte {
	raw := Normalize(data)

	if _, format, err := image.DecodeConfig(bytes.NewReader(raw)); err == nil && format == "png" {
		return raw
	}

	img, _, err := Decode(raw)
	if err != nil {
		return raw
	}

	encoded, err := EncodePNG(img)
	if err != nil {
		return raw
	}

	return encoded
}

func decodeBase64(data []byte) ([]byte, bool) {
	text := strings.Join(strings.Fields(string(data)), "")
	if text == "" {
		return nil, false
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if decoded, err := enc.DecodeString(text); err == nil {
			return decoded, true
		}
	}

	return nil, false
}

// Decode returns the bitmap carried by data and the format name.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmpty
	}

	raw := Normalize(data)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUndecoded, err)
	}

	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUndecoded, err)
	}

	return img, format, nil
}

// Thumbnail scales img down so neither side exceeds bound, keeping the
// aspect ratio. Images already within bound are returned unchanged.
func Thumbnail(img image.Image, bound int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if bound <= 0 || (w <= bound && h <= bound) {
		return img
	}

	tw, th := bound, bound
	if w > h {
		th = max(1, h*bound/w)
	} else {
		tw = max(1, w*bound/h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)

	return dst
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}

	return buf.Bytes(), nil
}

// DataURL encodes img as a PNG data URL.
func DataURL(img image.Image) (string, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return "", err
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
}
