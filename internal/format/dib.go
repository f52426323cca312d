// Package format converts raw clipboard payloads into the two content kinds
// the history keeps: plain text and PNG images.
//
// Windows hands bitmaps over as a device-independent bitmap (CF_DIB): a
// BITMAPINFOHEADER (or a later V4/V5 header), optional colour masks, an
// optional palette and the pixel rows, with no BITMAPFILEHEADER in front.
// DIBToPNG synthesizes the missing 14-byte file header so the payload becomes
// a standalone .bmp, decodes it and stores it as PNG. PNGToDIB is the inverse
// used when an image entry is written back to the clipboard.
package format

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/bmp"
)

const (
	fileHeaderLen = 14
	infoHeaderLen = 40

	biRGB            = 0
	biBitfields      = 3
	biAlphaBitfields = 6

	// MaxPixels bounds the decoded image size. Larger bitmaps are rejected
	// before any pixel buffer is allocated.
	MaxPixels = 1 << 26
)

// ErrNotBitmap is returned when a payload cannot be interpreted as a DIB.
var ErrNotBitmap = errors.New("format: not a device-independent bitmap")

type dibHeader struct {
	size        uint32
	width       int32
	height      int32
	bitCount    uint16
	compression uint32
	colorsUsed  uint32
}

func parseDIBHeader(dib []byte) (dibHeader, error) {
	if len(dib) < infoHeaderLen {
		return dibHeader{}, fmt.Errorf("%w: %d bytes", ErrNotBitmap, len(dib))
	}
	h := dibHeader{
		size:        binary.LittleEndian.Uint32(dib[0:4]),
		width:       int32(binary.LittleEndian.Uint32(dib[4:8])),
		height:      int32(binary.LittleEndian.Uint32(dib[8:12])),
		bitCount:    binary.LittleEndian.Uint16(dib[14:16]),
		compression: binary.LittleEndian.Uint32(dib[16:20]),
		colorsUsed:  binary.LittleEndian.Uint32(dib[32:36]),
	}
	if h.size < infoHeaderLen || int(h.size) > len(dib) {
		return dibHeader{}, fmt.Errorf("%w: header size %d", ErrNotBitmap, h.size)
	}
	if h.colorsUsed == 0 && h.bitCount <= 8 {
		h.colorsUsed = 1 << h.bitCount
	}
	return h, nil
}

// maskBytes is the size of the colour masks stored between a plain
// BITMAPINFOHEADER and the palette. Larger headers embed their masks.
func (h dibHeader) maskBytes() uint32 {
	if h.size != infoHeaderLen {
		return 0
	}
	switch h.compression {
	case biBitfields:
		return 12
	case biAlphaBitfields:
		return 16
	}
	return 0
}

func (h dibHeader) pixelOffset() uint32 {
	return fileHeaderLen + h.size + h.maskBytes() + h.colorsUsed*4
}

// dims returns the pixel width and height. Top-down bitmaps store a negative
// height; the absolute value is returned.
func (h dibHeader) dims() (width, height int64) {
	width, height = int64(h.width), int64(h.height)
	if height < 0 {
		height = -height
	}
	return width, height
}

// checkSize rejects headers whose dimensions cannot be backed by the payload
// or exceed MaxPixels. Uncompressed rows are padded to 4 bytes.
func (h dibHeader) checkSize(payload int) error {
	w, ht := h.dims()
	if w <= 0 || ht == 0 {
		return fmt.Errorf("%w: %dx%d", ErrNotBitmap, w, ht)
	}
	if w*ht > MaxPixels {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrNotBitmap, w, ht, MaxPixels)
	}
	switch h.compression {
	case biRGB, biBitfields, biAlphaBitfields:
	default:
		return nil
	}
	row := (w*int64(h.bitCount) + 31) / 32 * 4
	need := int64(h.pixelOffset()-fileHeaderLen) + row*ht
	if need > int64(payload) {
		return fmt.Errorf("%w: %dx%d at %d bpp needs %d bytes, have %d", ErrNotBitmap, w, ht, h.bitCount, need, payload)
	}
	return nil
}

func withFileHeader(dib []byte, pixelOffset uint32) []byte {
	out := make([]byte, fileHeaderLen, fileHeaderLen+len(dib))
	out[0], out[1] = 'B', 'M'
	binary.LittleEndian.PutUint32(out[2:6], uint32(len(dib)+fileHeaderLen))
	// bytes 6..10 are reserved and stay zero
	binary.LittleEndian.PutUint32(out[10:14], pixelOffset)
	return append(out, dib...)
}

// DIBToPNG decodes a CF_DIB payload and re-encodes it losslessly as PNG.
func DIBToPNG(dib []byte) ([]byte, error) {
	h, err := parseDIBHeader(dib)
	if err != nil {
		return nil, err
	}
	if err := h.checkSize(len(dib)); err != nil {
		return nil, err
	}

	img, err := bmp.Decode(bytes.NewReader(withFileHeader(dib, h.pixelOffset())))
	if errors.Is(err, bmp.ErrUnsupported) {
		if plain, ok := dropDefaultMasks(dib, h); ok {
			img, err = bmp.Decode(bytes.NewReader(withFileHeader(plain, fileHeaderLen+infoHeaderLen)))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("decode bitmap: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// dropDefaultMasks rewrites a 32-bpp BI_BITFIELDS payload whose masks are the
// BI_RGB defaults (BGRX) into an equivalent BI_RGB payload. Screenshots are
// commonly published in this form and the BMP codec only accepts masks that
// live inside a V4/V5 header.
func dropDefaultMasks(dib []byte, h dibHeader) ([]byte, bool) {
	if h.size != infoHeaderLen || h.compression != biBitfields || h.bitCount != 32 {
		return nil, false
	}
	if len(dib) < infoHeaderLen+12 {
		return nil, false
	}
	masks := dib[infoHeaderLen : infoHeaderLen+12]
	if binary.LittleEndian.Uint32(masks[0:4]) != 0x00ff0000 ||
		binary.LittleEndian.Uint32(masks[4:8]) != 0x0000ff00 ||
		binary.LittleEndian.Uint32(masks[8:12]) != 0x000000ff {
		return nil, false
	}
	out := make([]byte, 0, len(dib)-12)
	out = append(out, dib[:infoHeaderLen]...)
	binary.LittleEndian.PutUint32(out[16:20], biRGB)
	binary.LittleEndian.PutUint32(out[32:36], 0)
	return append(out, dib[infoHeaderLen+12:]...), true
}

// PNGToDIB decodes a stored PNG and returns the equivalent CF_DIB payload,
// i.e. an uncompressed BMP file without its 14-byte file header.
func PNGToDIB(data []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	return EncodeDIB(img)
}

// EncodeDIB encodes img as a CF_DIB payload.
func EncodeDIB(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode bitmap: %w", err)
	}
	b := buf.Bytes()
	if len(b) <= fileHeaderLen {
		return nil, fmt.Errorf("encode bitmap: short output (%d bytes)", len(b))
	}
	return b[fileHeaderLen:], nil
}
