// Package yuv converts RGBA frames into I420 planes for the video
// encoder.
package yuv

// see: https://stackoverflow.com/questions/9465815/rgb-to-yuv420-algorithm-efficiency

/*
void rgba2yuv(void * destination, void * source, int width, int height, int stride) {
  const int image_size = width * height;
  unsigned char * rgba = source;
  unsigned char * dst_y = destination;
  unsigned char * dst_u = destination + image_size;
  unsigned char * dst_v = destination + image_size + image_size / 4;

  int i, x, y;
  // Y plane
  for (y = 0; y < height; ++y) {
    for (x = 0; x < width; ++x) {
      i = y * (width + stride) + x;
      * dst_y++ = ((66 * rgba[4 * i] + 129 * rgba[4 * i + 1] + 25 * rgba[4 * i + 2]) >> 8) + 16;
    }
  }

  // U plane
  for (y = 0; y < height; y += 2) {
    for (x = 0; x < width; x += 2) {
      i = y * (width + stride) + x;
      * dst_u++ = ((-38 * rgba[4 * i] + -74 * rgba[4 * i + 1] + 112 * rgba[4 * i + 2]) >> 8) + 128;
    }
  }

  // V plane
  for (y = 0; y < height; y += 2) {
    for (x = 0; x < width; x += 2) {
      i = y * (width + stride) + x;
      * dst_v++ = ((112 * rgba[4 * i] + -94 * rgba[4 * i + 1] + -18 * rgba[4 * i + 2]) >> 8) + 128;
    }
  }
}
*/
import "C"
import (
	"image"
	"unsafe"
)

// Converter holds a reusable I420 buffer for one frame size.
type Converter struct {
	data []byte
	w, h int
}

func NewConverter(w, h int) *Converter {
	return &Converter{data: make([]byte, w*h*3/2), w: w, h: h}
}

// FromRGBA fills the internal I420 buffer from an RGBA image and
// returns it. The image must match the converter dimensions, rows
// may carry extra stride.
func (c *Converter) FromRGBA(img *image.RGBA) []byte {
	pad := img.Stride/4 - c.w
	C.rgba2yuv(unsafe.Pointer(&c.data[0]), unsafe.Pointer(&img.Pix[0]),
		C.int(c.w), C.int(c.h), C.int(pad))
	return c.data
}
