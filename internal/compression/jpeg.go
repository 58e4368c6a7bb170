package compression

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
)

type Subsampling int

const (
	SubsamplingUnknown Subsampling = iota
	Subsampling444
	Subsampling422
	Subsampling420
	Subsampling440
	Subsampling411
	SubsamplingGray
)

func (s Subsampling) String() string {
	switch s {
	case Subsampling444:
		return "4:4:4"
	case Subsampling422:
		return "4:2:2"
	case Subsampling420:
		return "4:2:0"
	case Subsampling440:
		return "4:4:0"
	case Subsampling411:
		return "4:1:1"
	case SubsamplingGray:
		return "gray"
	default:
		return "unknown"
	}
}

type PixelFormat int

const (
	PixelRGB PixelFormat = iota
	PixelBGR
	PixelRGBA
)

func (f PixelFormat) String() string {
	switch f {
	case PixelBGR:
		return "bgr"
	case PixelRGBA:
		return "rgba"
	default:
		return "rgb"
	}
}

// ParsePixelFormat accepts the names printed by PixelFormat.String.
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch strings.ToLower(s) {
	case "rgb", "":
		return PixelRGB, nil
	case "bgr":
		return PixelBGR, nil
	case "rgba":
		return PixelRGBA, nil
	default:
		return PixelRGB, fmt.Errorf("unknown pixel format %q", s)
	}
}

func (f PixelFormat) BytesPerPixel() int {
	if f == PixelRGBA {
		return 4
	}
	return 3
}

type Header struct {
	Width       int
	Height      int
	Subsampling Subsampling
}

// JPEG decodes baseline and progressive JPEG payloads. It holds no state and
// is safe for concurrent use.
type JPEG struct{}

func NewJPEG() *JPEG {
	return &JPEG{}
}

// ProbeHeader reads the image dimensions and chroma subsampling without
// decoding any pixels.
func (JPEG) ProbeHeader(data []byte) (Header, error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Header{}, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Header{}, fmt.Errorf("invalid jpeg dimensions %dx%d", cfg.Width, cfg.Height)
	}
	subsampling, _ := scanSubsampling(data)
	return Header{Width: cfg.Width, Height: cfg.Height, Subsampling: subsampling}, nil
}

// Decode decodes data into dst, growing it when needed, and returns the
// width*height*bpp pixel buffer in the requested format.
func (JPEG) Decode(dst, data []byte, width, height int, format PixelFormat) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	if bounds.Dx() != width || bounds.Dy() != height {
		return nil, fmt.Errorf("jpeg is %dx%d, expected %dx%d", bounds.Dx(), bounds.Dy(), width, height)
	}

	bpp := format.BytesPerPixel()
	size := width * height * bpp
	if cap(dst) < size {
		dst = make([]byte, size)
	}
	dst = dst[:size]

	i := 0
	put := func(r, g, b uint8) {
		switch format {
		case PixelBGR:
			dst[i], dst[i+1], dst[i+2] = b, g, r
		case PixelRGBA:
			dst[i], dst[i+1], dst[i+2], dst[i+3] = r, g, b, 0xff
		default:
			dst[i], dst[i+1], dst[i+2] = r, g, b
		}
		i += bpp
	}

	switch src := img.(type) {
	case *image.YCbCr:
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				yi := src.YOffset(x, y)
				ci := src.COffset(x, y)
				put(color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci]))
			}
		}
	case *image.Gray:
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			row := src.Pix[(y-bounds.Min.Y)*src.Stride:]
			for x := 0; x < width; x++ {
				v := row[x]
				put(v, v, v)
			}
		}
	default:
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				r, g, b, _ := img.At(x, y).RGBA()
				put(uint8(r>>8), uint8(g>>8), uint8(b>>8))
			}
		}
	}
	return dst, nil
}

var errNoFrameHeader = errors.New("no SOF segment before scan data")

// scanSubsampling walks the marker segments up to the first SOFn.
func scanSubsampling(data []byte) (Subsampling, error) {
	if len(data) < 4 || data[0] != 0xff || data[1] != 0xd8 {
		return SubsamplingUnknown, errors.New("missing SOI marker")
	}
	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xff {
			return SubsamplingUnknown, fmt.Errorf("expected marker at offset %d", pos)
		}
		marker := data[pos+1]
		if marker == 0xff {
			pos++
			continue
		}
		if marker == 0x01 || (marker >= 0xd0 && marker <= 0xd7) {
			pos += 2
			continue
		}
		if marker == 0xda || marker == 0xd9 {
			return SubsamplingUnknown, errNoFrameHeader
		}
		length := int(data[pos+2])<<8 | int(data[pos+3])
		segment := pos + 4
		if length < 2 || segment+length-2 > len(data) {
			return SubsamplingUnknown, errors.New("truncated segment")
		}
		if isSOF(marker) {
			return parseSOF(data[segment : segment+length-2])
		}
		pos += 2 + length
	}
	return SubsamplingUnknown, errNoFrameHeader
}

func isSOF(marker byte) bool {
	switch marker {
	case 0xc0, 0xc1, 0xc2, 0xc3, 0xc5, 0xc6, 0xc7, 0xc9, 0xca, 0xcb, 0xcd, 0xce, 0xcf:
		return true
	}
	return false
}

// parseSOF reads the luma sampling factors: precision(1) height(2) width(2)
// components(1) then id, sampling, table per component.
func parseSOF(body []byte) (Subsampling, error) {
	if len(body) < 6 {
		return SubsamplingUnknown, errors.New("short SOF segment")
	}
	components := int(body[5])
	if components == 1 {
		return SubsamplingGray, nil
	}
	if len(body) < 6+3*components {
		return SubsamplingUnknown, errors.New("short SOF component table")
	}
	h := body[7] >> 4
	v := body[7] & 0x0f
	switch {
	case h == 1 && v == 1:
		return Subsampling444, nil
	case h == 2 && v == 1:
		return Subsampling422, nil
	case h == 2 && v == 2:
		return Subsampling420, nil
	case h == 1 && v == 2:
		return Subsampling440, nil
	case h == 4 && v == 1:
		return Subsampling411, nil
	}
	return SubsamplingUnknown, nil
}
