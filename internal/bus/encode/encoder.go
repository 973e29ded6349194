// Package encode implements the encoder side of an output pipeline: an
// astiav.CodecContext fed decoded frames (optionally through
// internal/bus/convert first) and producing packets for a muxer, plus a
// Copier that passes a stream's packets straight through without
// touching a codec at all for outputs that don't transcode.
package encode

import (
	"context"
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"

	"github.com/smazurov/mediabus/internal/bus"
	"github.com/smazurov/mediabus/internal/bus/convert"
	"github.com/smazurov/mediabus/internal/bus/registry"
	"github.com/smazurov/mediabus/internal/logging"
)

// Encoder owns one output stream's astiav.CodecContext and the optional
// scale/resample step feeding it, translating bus.Frame values from the
// frame bus into encoded astiav.Packets.
type Encoder struct {
	outputStreamIndex int
	srcTimeBase       astiav.Rational
	dstTimeBase       astiav.Rational

	ctx            *astiav.CodecContext
	candidate      registry.EncoderCandidate
	scaler         *convert.VideoConverter
	resampler      *convert.AudioResampler
	resampledFrame *astiav.Frame
	pkt            *astiav.Packet

	logger logging.Logger
}

// knownPresets is the preset vocabulary an encode request may carry;
// anything else falls back to medium rather than failing the encoder
// open with an opaque libav error.
var knownPresets = map[string]bool{
	"ultrafast": true,
	"superfast": true,
	"veryfast":  true,
	"fast":      true,
	"medium":    true,
}

func normalizePreset(preset *string) *string {
	if preset == nil {
		return nil
	}
	if !knownPresets[*preset] {
		p := "medium"
		return &p
	}
	return preset
}

// NewVideo opens a video encoder for the given candidate/options. The
// encoder is parameterized from the source stream (geometry, pixel
// format, frame rate) with opts overriding what it names; frames are
// scaled/reformatted first whenever the encoder's input differs from
// what the decoder produces.
func NewVideo(candidate registry.EncoderCandidate, opts bus.EncodeOpts, src bus.ElementaryStream, dstTimeBase astiav.Rational, outputStreamIndex int, logger logging.Logger) (*Encoder, error) {
	codec := astiav.FindEncoderByName(candidate.Name)
	if codec == nil {
		return nil, bus.NewError(bus.ErrEncoderInit, fmt.Sprintf("encoder %s not found", candidate.Name), nil)
	}

	cctx := astiav.AllocCodecContext(codec)
	if cctx == nil {
		return nil, bus.NewError(bus.ErrEncoderInit, "failed to allocate codec context", nil)
	}

	width, height := src.Width, src.Height
	if opts.Width != nil && *opts.Width > 0 {
		width = *opts.Width
	}
	if opts.Height != nil && *opts.Height > 0 {
		height = *opts.Height
	}

	// Feed the encoder its preferred input format; the converter bridges
	// from whatever the decoder hands over.
	pixFmt := src.PixelFormat
	if pfs := codec.PixelFormats(); len(pfs) > 0 {
		supported := false
		for _, f := range pfs {
			if f == pixFmt {
				supported = true
				break
			}
		}
		if !supported {
			pixFmt = pfs[0]
		}
	}

	cctx.SetTimeBase(dstTimeBase)
	cctx.SetWidth(width)
	cctx.SetHeight(height)
	cctx.SetPixelFormat(pixFmt)
	if src.FrameRate.Num() > 0 {
		cctx.SetFramerate(src.FrameRate)
	}

	dict := astiav.NewDictionary()
	defer dict.Free()

	gop := opts.KeyframeInterval
	if gop == nil && src.FrameRate.Den() > 0 {
		// Default GOP of two seconds' worth of frames.
		g := 2 * src.FrameRate.Num() / src.FrameRate.Den()
		if g > 0 {
			gop = &g
		}
	}

	rc := registry.RateControlOptions(string(opts.Mode), opts.TargetBitrate, opts.MaxBitrate, opts.BufferSize, opts.Quality, gop, opts.BFrames, normalizePreset(opts.Preset))
	for k, v := range candidate.Options {
		dict.Set(k, v, 0)
	}
	for k, v := range rc {
		dict.Set(k, v, 0)
	}

	if err := cctx.Open(codec, dict); err != nil {
		cctx.Free()
		return nil, bus.NewError(bus.ErrEncoderInit, fmt.Sprintf("opening encoder %s", candidate.Name), err)
	}

	e := &Encoder{
		outputStreamIndex: outputStreamIndex,
		srcTimeBase:       src.TimeBase,
		dstTimeBase:       dstTimeBase,
		ctx:               cctx,
		candidate:         candidate,
		pkt:               astiav.AllocPacket(),
		logger:            logger,
	}

	if width != src.Width || height != src.Height || pixFmt != src.PixelFormat {
		e.scaler = convert.NewVideoConverter(width, height, pixFmt)
	}

	logger.Info("encoder opened", "encoder", candidate.Name, "family", candidate.Family)
	return e, nil
}

// NewAudio opens an audio encoder for the given candidate/options,
// resampling frames to the encoder's required sample rate, sample
// format and channel layout first when they differ from the source.
//
// Unlike the video path, it does not buffer samples across input frame
// boundaries into the encoder's exact frame_size; a decoder that hands
// over differently-sized buffers than the chosen encoder expects relies
// on libavcodec's own internal buffering via SendFrame. Encoders that
// reject partial frames outright are a known gap.
// TODO: add a sample FIFO ahead of SendFrame for frame_size-strict
// encoders.
func NewAudio(candidate registry.EncoderCandidate, opts bus.EncodeOpts, srcTimeBase, dstTimeBase astiav.Rational, srcSampleRate int, srcLayout astiav.ChannelLayout, srcFmt astiav.SampleFormat, outputStreamIndex int, logger logging.Logger) (*Encoder, error) {
	codec := astiav.FindEncoderByName(candidate.Name)
	if codec == nil {
		return nil, bus.NewError(bus.ErrEncoderInit, fmt.Sprintf("encoder %s not found", candidate.Name), nil)
	}

	cctx := astiav.AllocCodecContext(codec)
	if cctx == nil {
		return nil, bus.NewError(bus.ErrEncoderInit, "failed to allocate codec context", nil)
	}

	cctx.SetTimeBase(dstTimeBase)
	cctx.SetSampleRate(srcSampleRate)
	cctx.SetChannelLayout(srcLayout)

	// Prefer the source's own sample format if the encoder can take it;
	// otherwise fall back to whatever libavcodec lists first.
	dstFmt := srcFmt
	if sfs := codec.SampleFormats(); len(sfs) > 0 {
		supported := false
		for _, f := range sfs {
			if f == srcFmt {
				supported = true
				break
			}
		}
		if !supported {
			dstFmt = sfs[0]
		}
	}
	cctx.SetSampleFormat(dstFmt)

	dict := astiav.NewDictionary()
	defer dict.Free()

	rc := registry.RateControlOptions(string(opts.Mode), opts.TargetBitrate, opts.MaxBitrate, opts.BufferSize, nil, nil, nil, nil)
	for k, v := range candidate.Options {
		dict.Set(k, v, 0)
	}
	for k, v := range rc {
		dict.Set(k, v, 0)
	}

	if err := cctx.Open(codec, dict); err != nil {
		cctx.Free()
		return nil, bus.NewError(bus.ErrEncoderInit, fmt.Sprintf("opening encoder %s", candidate.Name), err)
	}

	e := &Encoder{
		outputStreamIndex: outputStreamIndex,
		srcTimeBase:       srcTimeBase,
		dstTimeBase:       dstTimeBase,
		ctx:               cctx,
		candidate:         candidate,
		pkt:               astiav.AllocPacket(),
		logger:            logger,
		resampler:         convert.NewAudioResampler(cctx.SampleRate(), cctx.SampleFormat(), cctx.ChannelLayout()),
		resampledFrame:    astiav.AllocFrame(),
	}

	logger.Info("encoder opened", "encoder", candidate.Name, "family", candidate.Family)
	return e, nil
}

// FillParameters copies the opened encoder's parameters onto an output
// stream's codec parameters, so a muxed header describes what this
// encoder actually produces rather than the source stream it replaced.
func (e *Encoder) FillParameters(params *astiav.CodecParameters) error {
	if err := e.ctx.ToCodecParameters(params); err != nil {
		return fmt.Errorf("encode: copying encoder parameters: %w", err)
	}
	return nil
}

// Encode feeds one decoded frame to the encoder and calls emit for every
// packet it produces: SendFrame once, then drain ReceivePacket until
// ErrEagain or ErrEof.
func (e *Encoder) Encode(ctx context.Context, frame *astiav.Frame, emit func(*astiav.Packet) error) error {
	input := frame
	if e.scaler != nil {
		scaled, err := e.scaler.Convert(frame)
		if err != nil {
			return fmt.Errorf("encode: scale before encode: %w", err)
		}
		input = scaled
	} else if e.resampler != nil {
		e.resampledFrame.Unref()
		e.resampledFrame.SetSampleRate(e.ctx.SampleRate())
		e.resampledFrame.SetSampleFormat(e.ctx.SampleFormat())
		e.resampledFrame.SetChannelLayout(e.ctx.ChannelLayout())
		e.resampledFrame.SetNbSamples(frame.NbSamples())
		if err := e.resampledFrame.AllocBuffer(0); err != nil {
			return fmt.Errorf("encode: allocate resample buffer: %w", err)
		}
		if err := e.resampler.Convert(frame, e.resampledFrame); err != nil {
			return fmt.Errorf("encode: resample before encode: %w", err)
		}
		e.resampledFrame.SetPts(frame.Pts())
		input = e.resampledFrame
	}

	if err := e.ctx.SendFrame(input); err != nil {
		return fmt.Errorf("encode: send frame: %w", err)
	}

	return e.drain(ctx, emit)
}

// Flush signals end-of-stream to the encoder and drains any packets it
// still has buffered. Callers must call this once per output stream
// during teardown or B-frame-buffered encoders will silently drop the
// tail of the stream.
func (e *Encoder) Flush(ctx context.Context, emit func(*astiav.Packet) error) error {
	if err := e.ctx.SendFrame(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
		return fmt.Errorf("encode: flush send: %w", err)
	}
	return e.drain(ctx, emit)
}

func (e *Encoder) drain(ctx context.Context, emit func(*astiav.Packet) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := e.ctx.ReceivePacket(e.pkt)
		if err != nil {
			if errors.Is(err, astiav.ErrEof) || errors.Is(err, astiav.ErrEagain) {
				return nil
			}
			return fmt.Errorf("encode: receive packet: %w", err)
		}

		e.pkt.SetStreamIndex(e.outputStreamIndex)
		e.pkt.RescaleTs(e.srcTimeBase, e.dstTimeBase)

		if e.pkt.Dts() > e.pkt.Pts() {
			e.pkt.SetDts(e.pkt.Pts())
		}

		if err := emit(e.pkt); err != nil {
			e.pkt.Unref()
			return err
		}
		e.pkt.Unref()
	}
}

// Close releases the encoder's codec context, packet buffer, and any
// scale/resample helper it owns.
func (e *Encoder) Close() {
	if e.scaler != nil {
		e.scaler.Close()
	}
	if e.resampler != nil {
		e.resampler.Close()
	}
	if e.resampledFrame != nil {
		e.resampledFrame.Free()
	}
	if e.pkt != nil {
		e.pkt.Free()
	}
	if e.ctx != nil {
		e.ctx.Free()
	}
}
