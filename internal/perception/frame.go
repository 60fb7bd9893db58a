package perception

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// MaxFrameWidth is the widest frame sent to the face service. Larger camera
// frames are downscaled, keeping the aspect ratio.
const MaxFrameWidth = 640

// jpegQuality is the encoding quality for frames sent to the face service.
const jpegQuality = 80

// Downscale returns img resized to at most maxWidth pixels wide, and the
// factor that maps coordinates in the result back to img. Images already
// narrow enough are returned as is with factor 1.
func Downscale(img image.Image, maxWidth int) (image.Image, float64) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxWidth || w == 0 {
		return img, 1
	}
	newW := maxWidth
	newH := h * maxWidth / w
	if newH < 1 {
		newH = 1
	}
	resized := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.ApproxBiLinear.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized, float64(w) / float64(newW)
}

// EncodeFrame downscales img to MaxFrameWidth and encodes it as JPEG.
func EncodeFrame(img image.Image) ([]byte, float64, error) {
	scaled, factor := Downscale(img, MaxFrameWidth)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, 0, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), factor, nil
}

// DecodeFrame decodes a JPEG, PNG or WebP frame reported by the kiosk page.
func DecodeFrame(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}
