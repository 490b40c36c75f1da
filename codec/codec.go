// Package codec converts between encoded image files and iface.ImageData.
package codec

import (
	iface "KnifeDetServer/interface"
	"bytes"
	"encoding/base64"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// Decode reads any format imaging understands (jpeg, png, gif, tiff, bmp)
// and applies the EXIF orientation. Failures are *iface.DecodeError.
func Decode(data []byte) (iface.ImageData, error) {
	if len(data) == 0 {
		return iface.ImageData{}, &iface.DecodeError{Cause: errors.New("empty file")}
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return iface.ImageData{}, &iface.DecodeError{Cause: err}
	}
	out := FromImage(img)
	if out.Empty() {
		return iface.ImageData{}, &iface.DecodeError{Cause: errors.New("decoded image is empty")}
	}
	return out, nil
}

// DecodeBase64 accepts plain base64 or a data URL (data:image/png;base64,...).
func DecodeBase64(b64 string) (iface.ImageData, error) {
	data, err := Base64Bytes(b64)
	if err != nil {
		return iface.ImageData{}, err
	}
	return Decode(data)
}

// Base64Bytes strips an optional data URL prefix and decodes the payload.
func Base64Bytes(b64 string) ([]byte, error) {
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, &iface.DecodeError{Cause: err}
	}
	return data, nil
}

func EncodePNG(img iface.ImageData) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, ToNRGBA(img), imaging.PNG); err != nil {
		return nil, errors.Wrap(err, "encode png")
	}
	return buf.Bytes(), nil
}

func EncodePNGBase64(img iface.ImageData) (string, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// FromImage drops alpha and packs the pixels as interleaved RGB.
func FromImage(img image.Image) iface.ImageData {
	src := imaging.Clone(img)
	b := src.Bounds()
	out := iface.NewImageData(b.Dx(), b.Dy())
	for y := 0; y < out.Height; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+out.Width*4]
		dst := out.Data[y*out.Width*3 : (y+1)*out.Width*3]
		for x := 0; x < out.Width; x++ {
			dst[x*3] = row[x*4]
			dst[x*3+1] = row[x*4+1]
			dst[x*3+2] = row[x*4+2]
		}
	}
	return out
}

func ToNRGBA(img iface.ImageData) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, img.Width, img.Height))
	fillRGBX(out.Pix, out.Stride, img)
	return out
}

// ToRGBA is used for drawing; the pixels are opaque, so no premultiplication is needed.
func ToRGBA(img iface.ImageData) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	fillRGBX(out.Pix, out.Stride, img)
	return out
}

func fillRGBX(pix []byte, stride int, img iface.ImageData) {
	for y := 0; y < img.Height; y++ {
		src := img.Data[y*img.Width*3 : (y+1)*img.Width*3]
		row := pix[y*stride : y*stride+img.Width*4]
		for x := 0; x < img.Width; x++ {
			row[x*4] = src[x*3]
			row[x*4+1] = src[x*3+1]
			row[x*4+2] = src[x*3+2]
			row[x*4+3] = 0xff
		}
	}
}

// FromRGBA is the inverse of ToRGBA for opaque images.
func FromRGBA(src *image.RGBA) iface.ImageData {
	b := src.Bounds()
	out := iface.NewImageData(b.Dx(), b.Dy())
	for y := 0; y < out.Height; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+out.Width*4]
		dst := out.Data[y*out.Width*3 : (y+1)*out.Width*3]
		for x := 0; x < out.Width; x++ {
			dst[x*3] = row[x*4]
			dst[x*3+1] = row[x*4+1]
			dst[x*3+2] = row[x*4+2]
		}
	}
	return out
}

// ResizeWidth scales to a fixed width keeping the aspect ratio; the height
// is truncated, not rounded.
func ResizeWidth(img iface.ImageData, width int) iface.ImageData {
	if img.Width == width {
		return img.Clone()
	}
	height := int(float64(img.Height) * (float64(width) / float64(img.Width)))
	if height < 1 {
		height = 1
	}
	return FromImage(imaging.Resize(ToNRGBA(img), width, height, imaging.Box))
}
