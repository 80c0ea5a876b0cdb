// Package vpx encodes I420 frames into VP8 for the share track.
package vpx

/*
#cgo pkg-config: vpx

#include "vpx/vpx_encoder.h"
#include "vpx/vpx_image.h"
#include "vpx/vp8cx.h"

#include <string.h>

vpx_codec_err_t enc_config_default(vpx_codec_enc_cfg_t *cfg) {
	return vpx_codec_enc_config_default(vpx_codec_vp8_cx(), cfg, 0);
}
vpx_codec_err_t enc_init(vpx_codec_ctx_t *codec, vpx_codec_enc_cfg_t *cfg) {
	return vpx_codec_enc_init(codec, vpx_codec_vp8_cx(), cfg, 0);
}

typedef struct FrameBuffer {
	void *ptr;
	int size;
} FrameBuffer;

FrameBuffer get_frame_buffer(vpx_codec_ctx_t *codec, vpx_codec_iter_t *iter) {
	FrameBuffer fb = {NULL, 0};
	const vpx_codec_cx_pkt_t *pkt = vpx_codec_get_cx_data(codec, iter);
	if (pkt != NULL && pkt->kind == VPX_CODEC_CX_FRAME_PKT) {
		fb.ptr = pkt->data.frame.buf;
		fb.size = pkt->data.frame.sz;
	}
	return fb;
}

int img_plane_width(const vpx_image_t *img, int plane) {
	if (plane > 0 && img->x_chroma_shift > 0)
		return (img->d_w + 1) >> img->x_chroma_shift;
	return img->d_w;
}

int img_plane_height(const vpx_image_t *img, int plane) {
	if (plane > 0 && img->y_chroma_shift > 0)
		return (img->d_h + 1) >> img->y_chroma_shift;
	return img->d_h;
}

void img_read(vpx_image_t *dst, void *src) {
	for (int plane = 0; plane < 3; ++plane) {
		unsigned char *buf = dst->planes[plane];
		const int stride = dst->stride[plane];
		const int w = img_plane_width(dst, plane);
		const int h = img_plane_height(dst, plane);

		for (int y = 0; y < h; ++y) {
			memcpy(buf, src, w);
			buf += stride;
			src += w;
		}
	}
}
*/
import "C"
import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

type Options struct {
	// Bitrate is the rate control target in kilobits per second.
	Bitrate uint
	// KeyframeInt forces a keyframe every n frames, 0 disables.
	KeyframeInt uint
	// FPS sets the stream timebase for rate control.
	FPS uint
}

type Encoder struct {
	frameCount C.int
	image      C.vpx_image_t
	codecCtx   C.vpx_codec_ctx_t
	kfi        C.int
	force      atomic.Bool
}

func NewEncoder(width, height int, opts Options) (*Encoder, error) {
	if opts.Bitrate == 0 {
		opts.Bitrate = 1200
	}
	enc := Encoder{kfi: C.int(opts.KeyframeInt)}

	if C.vpx_img_alloc(&enc.image, C.VPX_IMG_FMT_I420, C.uint(width), C.uint(height), 1) == nil {
		return nil, fmt.Errorf("vpx_img_alloc failed")
	}

	var cfg C.vpx_codec_enc_cfg_t
	if C.enc_config_default(&cfg) != 0 {
		return nil, fmt.Errorf("failed to get default codec config")
	}
	cfg.g_w = C.uint(width)
	cfg.g_h = C.uint(height)
	cfg.rc_target_bitrate = C.uint(opts.Bitrate)
	cfg.g_error_resilient = 1
	if opts.FPS > 0 {
		cfg.g_timebase.num = 1
		cfg.g_timebase.den = C.int(opts.FPS)
	}

	if C.enc_init(&enc.codecCtx, &cfg) != 0 {
		C.vpx_img_free(&enc.image)
		return nil, fmt.Errorf("failed to initialize encoder")
	}
	return &enc, nil
}

// ForceKeyframe makes the next encoded frame an intra frame. Safe to
// call from any goroutine.
func (e *Encoder) ForceKeyframe() { e.force.Store(true) }

// Encode compresses one I420 frame. An empty slice means the codec
// buffered the frame without producing output.
func (e *Encoder) Encode(yuv []byte) []byte {
	var iter C.vpx_codec_iter_t
	C.img_read(&e.image, unsafe.Pointer(&yuv[0]))

	var flags C.int
	if e.force.Swap(false) || (e.kfi > 0 && e.frameCount%e.kfi == 0) {
		flags |= C.VPX_EFLAG_FORCE_KF
	}
	if C.vpx_codec_encode(&e.codecCtx, &e.image, C.vpx_codec_pts_t(e.frameCount), 1,
		C.vpx_enc_frame_flags_t(flags), C.VPX_DL_REALTIME) != 0 {
		return nil
	}
	e.frameCount++

	fb := C.get_frame_buffer(&e.codecCtx, &iter)
	if fb.ptr == nil {
		return nil
	}
	return C.GoBytes(fb.ptr, fb.size)
}

func (e *Encoder) Shutdown() error {
	C.vpx_img_free(&e.image)
	if C.vpx_codec_destroy(&e.codecCtx) != 0 {
		return fmt.Errorf("failed to destroy the codec")
	}
	return nil
}
