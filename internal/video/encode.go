package video

import (
	"bytes"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// JPEGQuality is used for every screenshot.
const JPEGQuality = 90

// EncodeJPEG encodes an image as JPEG with the specified quality (1-100).
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ScaleToWidth shrinks img to maxWidth keeping its aspect ratio. Images that
// already fit, and maxWidth <= 0, are returned unchanged.
func ScaleToWidth(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	height := int(float64(b.Dy()) * float64(maxWidth) / float64(b.Dx()))
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
