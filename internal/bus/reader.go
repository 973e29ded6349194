package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/asticode/go-astiav"

	"github.com/smazurov/mediabus/internal/bus/pubsub"
	"github.com/smazurov/mediabus/internal/logging"
)

// Reader is the demuxer task: it opens one InputConfig, probes its
// elementary streams, and publishes every packet it reads onto the
// packet bus until the task's context is canceled or the input ends.
// EOF is a clean stop, EAGAIN retries, anything else is fatal.
type Reader struct {
	cfg    InputConfig
	bus    *pubsub.Bus[RawPacket]
	logger logging.Logger

	fctx    *astiav.FormatContext
	streams []ElementaryStream

	unknownStreamPackets atomic.Uint64
}

// NewReader constructs a Reader for cfg, publishing packets onto packets.
func NewReader(cfg InputConfig, packets *pubsub.Bus[RawPacket], logger logging.Logger) *Reader {
	return &Reader{cfg: cfg, bus: packets, logger: logger}
}

// Open demuxer-probes the input and returns the elementary streams it
// found. It must succeed before Worker is run as a process.Task.
func (r *Reader) Open() ([]ElementaryStream, error) {
	fctx := astiav.AllocFormatContext()
	if fctx == nil {
		return nil, NewError(ErrInputOpen, "failed to allocate format context", nil)
	}

	var inputFormat *astiav.InputFormat
	if r.cfg.Format != "" {
		inputFormat = astiav.FindInputFormat(r.cfg.Format)
	}

	var dict *astiav.Dictionary
	if len(r.cfg.Options) > 0 {
		dict = astiav.NewDictionary()
		defer dict.Free()
		for k, v := range r.cfg.Options {
			dict.Set(k, v, 0)
		}
	}

	if err := fctx.OpenInput(r.cfg.URL, inputFormat, dict); err != nil {
		fctx.Free()
		return nil, NewError(ErrInputOpen, fmt.Sprintf("opening input %s", r.cfg.URL), err)
	}

	if err := fctx.FindStreamInfo(nil); err != nil {
		fctx.CloseInput()
		return nil, NewError(ErrInputOpen, "probing stream info", err)
	}

	var streams []ElementaryStream
	for _, s := range fctx.Streams() {
		params := s.CodecParameters()
		es := ElementaryStream{
			Index:     s.Index(),
			CodecType: params.MediaType(),
			CodecID:   params.CodecID(),
			TimeBase:  s.TimeBase(),
			Extradata: params.ExtraData(),
		}
		switch es.CodecType {
		case astiav.MediaTypeVideo:
			es.Width = params.Width()
			es.Height = params.Height()
			es.PixelFormat = astiav.PixelFormat(params.Format())
			es.FrameRate = s.AvgFrameRate()
		case astiav.MediaTypeAudio:
			es.SampleRate = params.SampleRate()
			es.ChannelLayout = params.ChannelLayout()
			es.Channels = es.ChannelLayout.Channels()
			es.SampleFormat = astiav.SampleFormat(params.Format())
		default:
			continue
		}
		streams = append(streams, es)
	}

	if len(streams) == 0 {
		fctx.CloseInput()
		return nil, NewError(ErrNoStreams, fmt.Sprintf("no usable elementary streams in %s", r.cfg.URL), nil)
	}

	r.fctx = fctx
	r.streams = streams
	return streams, nil
}

// Streams returns the elementary streams discovered by Open.
func (r *Reader) Streams() []ElementaryStream {
	return r.streams
}

// UnknownStreamPackets returns the count of packets seen with a stream
// index that didn't correspond to any probed elementary stream.
func (r *Reader) UnknownStreamPackets() uint64 {
	return r.unknownStreamPackets.Load()
}

// Worker is the reader's process.Task body: it reads packets until ctx
// is canceled or the input reaches end of stream, publishing a copy of
// each packet's payload onto the packet bus.
func (r *Reader) Worker(ctx context.Context) error {
	if r.fctx == nil {
		return NewError(ErrNoInput, "reader used before Open", nil)
	}

	knownIndexes := make(map[int]bool, len(r.streams))
	for _, s := range r.streams {
		knownIndexes[s.Index] = true
	}

	pkt := astiav.AllocPacket()
	defer pkt.Free()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		if err := r.fctx.ReadFrame(pkt); err != nil {
			if errors.Is(err, astiav.ErrEof) || errors.Is(err, io.EOF) {
				return nil
			}
			// EAGAIN from a live source just means no packet is ready yet.
			if errors.Is(err, astiav.ErrEagain) {
				continue
			}
			return fmt.Errorf("reader: read frame: %w", err)
		}

		if !knownIndexes[pkt.StreamIndex()] {
			r.unknownStreamPackets.Add(1)
			pkt.Unref()
			continue
		}

		if r.bus.SubscriberCount() > 0 {
			data := make([]byte, pkt.Size())
			copy(data, pkt.Data())

			r.bus.Publish(RawPacket{
				StreamIndex: pkt.StreamIndex(),
				Data:        data,
				PTS:         pkt.Pts(),
				DTS:         pkt.Dts(),
				Duration:    pkt.Duration(),
				TimeBase:    r.streamTimeBase(pkt.StreamIndex()),
				Keyframe:    pkt.Flags().Has(astiav.PacketFlagKey),
			})
		}

		pkt.Unref()
	}
}

func (r *Reader) streamTimeBase(index int) astiav.Rational {
	for _, s := range r.streams {
		if s.Index == index {
			return s.TimeBase
		}
	}
	return astiav.Rational{}
}

// Close releases the underlying format context. Call it once the
// worker has stopped.
func (r *Reader) Close() {
	if r.fctx != nil {
		r.fctx.CloseInput()
		r.fctx.Free()
		r.fctx = nil
	}
}
