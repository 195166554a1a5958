// Package enhancer turns phone photographs of handwritten pages into clean
// black-on-white scans that OCR engines read reliably.
package enhancer

import (
	"bytes"
	"errors"
	"fmt"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// ErrImageDecode is returned when the input bytes are not a readable image.
// Callers usually keep the original upload instead.
var ErrImageDecode = errors.New("image decode failed")

const (
	shadowDilation  = 9
	shadowMedian    = 25
	claheClipLimit  = 1.0
	claheTileGrid   = 8
	bilateralWidth  = 7
	bilateralSigmaC = 50
	bilateralSigmaS = 50
)

type Enhancer interface {
	// Enhance returns the binarized scan of imageBytes encoded as PNG.
	Enhance(imageBytes []byte) ([]byte, error)
	// Crop returns the perspective-corrected page as PNG. cropped is false when no
	// page outline was found, in which case the image keeps its original size.
	Crop(imageBytes []byte) (out []byte, cropped bool, err error)
}

type Option func(*enhancer)

// WithDocumentDetection crops and deskews the page before enhancing it.
func WithDocumentDetection(enabled bool) Option {
	return func(e *enhancer) {
		e.detectDocument = enabled
	}
}

type enhancer struct {
	detectDocument bool
}

func New(opts ...Option) Enhancer {
	e := &enhancer{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *enhancer) Enhance(imageBytes []byte) ([]byte, error) {
	img, err := decode(imageBytes)
	if err != nil {
		return nil, err
	}
	if e.detectDocument {
		img, _ = detectDocument(img)
	}
	return encode(normalize(img))
}

func (e *enhancer) Crop(imageBytes []byte) ([]byte, bool, error) {
	img, err := decode(imageBytes)
	if err != nil {
		return nil, false, err
	}
	out, cropped := detectDocument(img)
	data, err := encode(out)
	if err != nil {
		return nil, false, err
	}
	return data, cropped, nil
}

// normalize runs the fixed pipeline: luminance, shadow flattening, local contrast
// equalization, edge-preserving smoothing and Otsu binarization.
func normalize(img image.Image) *image.Gray {
	gray := lumaPlane(img)
	background := medianBlur(dilate(gray, shadowDilation), shadowMedian)
	flat := flattenShadows(gray, background)
	equalized := clahe(flat, claheClipLimit, claheTileGrid, claheTileGrid)
	smooth := bilateral(equalized, bilateralWidth, bilateralSigmaC, bilateralSigmaS)
	return binarize(smooth, otsuThreshold(smooth)).toGray()
}

func decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.Join(ErrImageDecode, errors.New("empty input"))
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Join(ErrImageDecode, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, errors.Join(ErrImageDecode, fmt.Errorf("empty image %dx%d", b.Dx(), b.Dy()))
	}
	return img, nil
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
