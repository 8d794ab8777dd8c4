package storage

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"mediagen/internal/domain"
)

// ThumbnailBox is the bounding box thumbnails are scaled into.
const ThumbnailBox = 300

// ErrNoThumbnail means the artifact has no derivable still frame.
var ErrNoThumbnail = errors.New("storage: no thumbnail for artifact")

// DeriveThumbnail produces a JPEG that fits in a ThumbnailBox square.
// Images are scaled directly, animated GIF videos use their first frame.
// Voice clips and container formats without a decoder return ErrNoThumbnail.
func DeriveThumbnail(data []byte, kind domain.Kind, mime string) ([]byte, error) {
	var src image.Image
	switch kind {
	case domain.KindImage:
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("storage: decode image: %w", err)
		}
		src = img
	case domain.KindVideo:
		if !strings.HasPrefix(strings.ToLower(mime), "image/gif") {
			return nil, ErrNoThumbnail
		}
		img, err := gif.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("storage: decode first frame: %w", err)
		}
		src = img
	default:
		return nil, ErrNoThumbnail
	}
	return encodeThumbnail(src)
}

func encodeThumbnail(src image.Image) ([]byte, error) {
	b := src.Bounds()
	w, h := fitBox(b.Dx(), b.Dy(), ThumbnailBox)
	if w == 0 || h == 0 {
		return nil, errors.New("storage: empty image")
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 82}); err != nil {
		return nil, fmt.Errorf("storage: encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// fitBox scales (w, h) down to fit a box×box square, keeping the aspect
// ratio. Smaller images are left at their size.
func fitBox(w, h, box int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	if w <= box && h <= box {
		return w, h
	}
	if w >= h {
		nh := h * box / w
		if nh < 1 {
			nh = 1
		}
		return box, nh
	}
	nw := w * box / h
	if nw < 1 {
		nw = 1
	}
	return nw, box
}
