// Package convert adapts decoded frames to the pixel format, resolution
// and sample format an encoder or a raw-frame subscriber asked for, via
// libswscale (video) and libswresample (audio) through astiav.
package convert

import (
	"fmt"

	"github.com/asticode/go-astiav"
)

// VideoConverter rescales and/or reformats video frames. The scale
// context is rebuilt only when the input geometry changes, not per
// frame.
type VideoConverter struct {
	ssc    *astiav.SoftwareScaleContext
	dst    *astiav.Frame
	srcW   int
	srcH   int
	srcFmt astiav.PixelFormat
	dstW   int
	dstH   int
	dstFmt astiav.PixelFormat
}

// NewVideoConverter creates a converter targeting the given output
// geometry and pixel format. dstW/dstH of 0 means "keep the source size."
func NewVideoConverter(dstW, dstH int, dstFmt astiav.PixelFormat) *VideoConverter {
	return &VideoConverter{dstW: dstW, dstH: dstH, dstFmt: dstFmt}
}

// Convert scales/reformats src into the converter's target frame. The
// returned frame is owned by the converter and is only valid until the
// next call to Convert; callers that need to retain it must copy it.
func (c *VideoConverter) Convert(src *astiav.Frame) (*astiav.Frame, error) {
	if err := c.ensure(src); err != nil {
		return nil, err
	}
	if err := c.ssc.ScaleFrame(src, c.dst); err != nil {
		return nil, fmt.Errorf("convert: scale frame: %w", err)
	}
	return c.dst, nil
}

func (c *VideoConverter) ensure(src *astiav.Frame) error {
	sw, sh := src.Width(), src.Height()
	sp := src.PixelFormat()

	dw, dh := c.dstW, c.dstH
	if dw == 0 {
		dw = sw
	}
	if dh == 0 {
		dh = sh
	}

	if c.ssc != nil && sw == c.srcW && sh == c.srcH && sp == c.srcFmt && dw == c.dstW && dh == c.dstH {
		return nil
	}

	c.Close()

	ssc, err := astiav.CreateSoftwareScaleContext(
		sw, sh, sp,
		dw, dh, c.dstFmt,
		astiav.NewSoftwareScaleContextFlags(),
	)
	if err != nil {
		return fmt.Errorf("convert: create scale context %dx%d %s -> %dx%d %s: %w", sw, sh, sp, dw, dh, c.dstFmt, err)
	}

	dst := astiav.AllocFrame()
	dst.SetWidth(dw)
	dst.SetHeight(dh)
	dst.SetPixelFormat(c.dstFmt)

	if allocErr := dst.AllocBuffer(1); allocErr != nil {
		dst.Free()
		ssc.Free()
		return fmt.Errorf("convert: allocate destination buffer: %w", allocErr)
	}

	c.ssc = ssc
	c.dst = dst
	c.srcW, c.srcH, c.srcFmt = sw, sh, sp
	c.dstW, c.dstH = dw, dh

	return nil
}

// Close releases the converter's scale context and destination frame.
func (c *VideoConverter) Close() {
	if c.dst != nil {
		c.dst.Free()
		c.dst = nil
	}
	if c.ssc != nil {
		c.ssc.Free()
		c.ssc = nil
	}
}

// AudioResampler converts audio frames between sample rates, sample
// formats and channel layouts, configuring itself from the first frame
// it sees.
type AudioResampler struct {
	swr       *astiav.SoftwareResampleContext
	dstRate   int
	dstFmt    astiav.SampleFormat
	dstLayout astiav.ChannelLayout
}

// NewAudioResampler creates a resampler targeting the given output
// sample rate, sample format, and channel layout.
func NewAudioResampler(dstRate int, dstFmt astiav.SampleFormat, dstLayout astiav.ChannelLayout) *AudioResampler {
	return &AudioResampler{dstRate: dstRate, dstFmt: dstFmt, dstLayout: dstLayout}
}

// Convert resamples src into dst, allocating the resample context on
// first use as libswresample's API expects.
func (r *AudioResampler) Convert(src, dst *astiav.Frame) error {
	if r.swr == nil {
		r.swr = astiav.AllocSoftwareResampleContext()
	}
	if err := r.swr.ConvertFrame(src, dst); err != nil {
		return fmt.Errorf("convert: resample frame: %w", err)
	}
	return nil
}

// Close releases the resample context.
func (r *AudioResampler) Close() {
	if r.swr != nil {
		r.swr.Free()
		r.swr = nil
	}
}
