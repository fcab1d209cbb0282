// Package preprocess turns request payloads into the normalised CHW tensor
// the network was trained on.
package preprocess

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"strings"
	"unicode"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Brownie44l1/lesion-api/internal/failure"
)

const (
	channels = 3

	// MaxSourcePixels bounds the decoded image area.
	MaxSourcePixels = 24_000_000
	// MaxAspectRatio bounds the long/short side ratio, which sets the size of
	// the intermediate resized bitmap.
	MaxAspectRatio = 16
)

// Params mirrors the torchvision evaluation transform: Resize(ResizeSize),
// CenterCrop(CropSize), ToTensor, Normalize(Mean, Std).
type Params struct {
	ResizeSize int        `json:"resize_size"`
	CropSize   int        `json:"image_size"`
	Mean       [3]float32 `json:"mean"`
	Std        [3]float32 `json:"std"`
}

func DefaultParams() Params {
	return Params{
		ResizeSize: 256,
		CropSize:   224,
		Mean:       [3]float32{0.485, 0.456, 0.406},
		Std:        [3]float32{0.229, 0.224, 0.225},
	}
}

type Transform struct {
	params Params
}

func NewTransform(p Params) (*Transform, error) {
	if p.CropSize <= 0 {
		return nil, fmt.Errorf("crop size must be positive, got %d", p.CropSize)
	}
	if p.ResizeSize < p.CropSize {
		return nil, fmt.Errorf("resize size %d is smaller than crop size %d", p.ResizeSize, p.CropSize)
	}
	for i, s := range p.Std {
		if s == 0 {
			return nil, fmt.Errorf("std for channel %d is zero", i)
		}
	}
	return &Transform{params: p}, nil
}

// Size is the number of float32 values Apply produces.
func (t *Transform) Size() int {
	return channels * t.params.CropSize * t.params.CropSize
}

func (t *Transform) Apply(img image.Image) ([]float32, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, failure.Newf(failure.KindShape, "preprocess", "image has no pixels (%dx%d)", b.Dx(), b.Dy())
	}
	if err := checkDimensions(b.Dx(), b.Dy()); err != nil {
		return nil, failure.New(failure.KindDecode, "preprocess", err)
	}

	w, h := scaledSize(b.Dx(), b.Dy(), t.params.ResizeSize)
	resized := resize.Resize(uint(w), uint(h), toRGB(img), resize.Bilinear)

	crop := t.params.CropSize
	rb := resized.Bounds()
	if rb.Dx() < crop || rb.Dy() < crop {
		return nil, failure.Newf(failure.KindShape, "preprocess", "resized image %dx%d smaller than crop %d", rb.Dx(), rb.Dy(), crop)
	}
	left := int(math.RoundToEven(float64(rb.Dx()-crop) / 2))
	top := int(math.RoundToEven(float64(rb.Dy()-crop) / 2))

	plane := crop * crop
	out := make([]float32, channels*plane)
	mean, std := t.params.Mean, t.params.Std

	for y := 0; y < crop; y++ {
		for x := 0; x < crop; x++ {
			r, g, bl, _ := resized.At(rb.Min.X+left+x, rb.Min.Y+top+y).RGBA()

			idx := y*crop + x
			out[idx] = (float32(r>>8)/255.0 - mean[0]) / std[0]
			out[plane+idx] = (float32(g>>8)/255.0 - mean[1]) / std[1]
			out[2*plane+idx] = (float32(bl>>8)/255.0 - mean[2]) / std[2]
		}
	}

	return out, nil
}

func checkDimensions(w, h int) error {
	if int64(w)*int64(h) > MaxSourcePixels {
		return fmt.Errorf("image %dx%d exceeds %d pixels", w, h, MaxSourcePixels)
	}
	short, long := w, h
	if short > long {
		short, long = long, short
	}
	if short > 0 && int64(long) > int64(short)*MaxAspectRatio {
		return fmt.Errorf("image %dx%d aspect ratio exceeds %d:1", w, h, MaxAspectRatio)
	}
	return nil
}

// scaledSize resizes the shorter side to size, keeping the aspect ratio and
// truncating the longer side.
func scaledSize(w, h, size int) (int, int) {
	if w <= h {
		return size, int(int64(size) * int64(h) / int64(w))
	}
	return int(int64(size) * int64(w) / int64(h)), size
}

// toRGB drops the alpha channel without compositing, keeping the stored colour.
func toRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			dst.SetRGBA(x-b.Min.X, y-b.Min.Y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
		}
	}
	return dst
}

// DecodeBase64 accepts padded or unpadded standard base64, optionally wrapped
// in a data URL and broken across lines.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.IndexByte(s, ','); i >= 0 && strings.Contains(s[:i], ";base64") {
			s = s[i+1:]
		}
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)

	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); rawErr == nil {
		return raw, nil
	}
	return nil, failure.New(failure.KindDecode, "decode base64", err)
}

// DecodeImage reads the header first and refuses images too large to
// preprocess before decoding any pixels.
func DecodeImage(r io.Reader) (image.Image, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", failure.New(failure.KindDecode, "read image", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", failure.New(failure.KindDecode, "decode image", err)
	}
	if err := checkDimensions(cfg.Width, cfg.Height); err != nil {
		return nil, "", failure.New(failure.KindDecode, "decode image", err)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", failure.New(failure.KindDecode, "decode image", err)
	}
	return img, format, nil
}
