// Package muxwriter implements the three output kinds the bus supports:
// a container muxer writer (file or network URL), a raw-frame writer
// that hands bus.Frame values to a subscriber channel, and a raw-packet
// writer that does the same for bus.RawPacket values. The container
// writer follows libavformat's muxing lifecycle: allocate an output
// format context from the destination, add a stream per selected
// elementary stream, WriteHeader, WriteInterleavedFrame per packet,
// WriteTrailer on close.
package muxwriter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/asticode/go-astiav"

	"github.com/smazurov/mediabus/internal/bus"
	"github.com/smazurov/mediabus/internal/logging"
)

// Write retry policy: EAGAIN, and on network destinations every error
// (timeouts included), is retried with exponential backoff up to a cap.
// After that, a network error other than EAGAIN is classified terminal
// and the output is expected to be torn down by the caller; a persistent
// EAGAIN, or any error on a file destination, only drops the packet.
const (
	writeRetryAttempts = 5
	writeRetryBase     = 50 * time.Millisecond
	writeRetryCap      = 1 * time.Second

	// openTimeout bounds how long opening a network destination may
	// block, passed to libavformat as rw_timeout (microseconds).
	openTimeout = 10 * time.Second
)

// formatFromScheme maps a destination URL scheme to the libavformat
// muxer name to request; rtmp carries flv, srt carries mpegts.
func formatFromScheme(scheme string) string {
	switch scheme {
	case "rtmp", "rtmps":
		return "flv"
	case "srt":
		return "mpegts"
	default:
		return scheme
	}
}

// Container writes encoded/copied packets for every stream in an output
// spec into a single muxed container, whether that destination is a
// local file or a network URL libavformat understands natively.
type Container struct {
	target    string
	isNetwork bool
	fctx      *astiav.FormatContext
	io        *astiav.IOContext
	streams   map[int]*astiav.Stream
	started   bool
	logger    logging.Logger

	// lastPTS enforces per-stream timestamp monotonicity at the single
	// point every packet passes through on its way to a muxer,
	// regardless of whether it arrived via Copier or Encoder.
	lastPTS map[int]int64
}

// NewContainer allocates (but does not yet open) a muxer writer for
// target, a file path or URL such as rtmp://host/app/key or a plain
// path ending in .mp4/.mkv.
func NewContainer(target string, logger logging.Logger) (*Container, error) {
	formatName := ""
	isNetwork := false
	if u, err := url.Parse(target); err == nil && u.Scheme != "" {
		formatName = formatFromScheme(u.Scheme)
		isNetwork = true
	}

	fctx, err := astiav.AllocOutputFormatContext(nil, formatName, target)
	if err != nil || fctx == nil {
		return nil, bus.NewError(bus.ErrWriterOpen, fmt.Sprintf("allocating output format context for %s", target), err)
	}

	return &Container{
		target:    target,
		isNetwork: isNetwork,
		fctx:      fctx,
		streams:   make(map[int]*astiav.Stream),
		lastPTS:   make(map[int]int64),
		logger:    logger,
	}, nil
}

// AddStream registers one elementary stream to be muxed, copying its
// codec parameters onto a new output stream. Call this for every
// selected stream before Open.
func (c *Container) AddStream(source bus.ElementaryStream) (outputIndex int, err error) {
	out := c.fctx.NewStream(nil)
	if out == nil {
		return 0, bus.NewError(bus.ErrWriterOpen, "failed to allocate output stream", nil)
	}

	params := out.CodecParameters()
	params.SetMediaType(source.CodecType)
	params.SetCodecID(source.CodecID)
	if source.IsVideo() {
		params.SetWidth(source.Width)
		params.SetHeight(source.Height)
		params.SetFormat(int(source.PixelFormat))
	} else if source.IsAudio() {
		params.SetSampleRate(source.SampleRate)
		params.SetChannelLayout(source.ChannelLayout)
		params.SetFormat(int(source.SampleFormat))
	}
	if len(source.Extradata) > 0 {
		params.SetExtraData(source.Extradata)
	}
	out.SetTimeBase(source.TimeBase)

	c.streams[source.Index] = out
	return out.Index(), nil
}

// StreamParameters returns the codec parameters of the output stream
// created for sourceIndex, for transcoding callers that need to replace
// the copied source parameters with their encoder's before Open.
func (c *Container) StreamParameters(sourceIndex int) *astiav.CodecParameters {
	if s, ok := c.streams[sourceIndex]; ok {
		return s.CodecParameters()
	}
	return nil
}

// Open opens the IO context (skipped for formats that don't need a
// file, e.g. some network muxers) and writes the container header.
// Call this once, after every stream has been added via AddStream.
func (c *Container) Open(ctx context.Context, options map[string]string) error {
	var dict *astiav.Dictionary
	if len(options) > 0 || c.isNetwork {
		dict = astiav.NewDictionary()
		defer dict.Free()
		for k, v := range options {
			dict.Set(k, v, 0)
		}
		// Bounded open: a dead network destination must fail as
		// WriterOpen, not hang the caller.
		if c.isNetwork && options["rw_timeout"] == "" {
			dict.Set("rw_timeout", fmt.Sprintf("%d", openTimeout.Microseconds()), 0)
		}
	}

	if !c.fctx.OutputFormat().Flags().Has(astiav.IOFormatFlagNofile) {
		io, err := astiav.OpenIOContext(c.target, astiav.NewIOContextFlags(astiav.IOContextFlagWrite), nil, dict)
		if err != nil {
			return bus.NewError(bus.ErrWriterOpen, fmt.Sprintf("opening IO context for %s", c.target), err)
		}
		c.io = io
		c.fctx.SetPb(io)
	}

	if err := c.fctx.WriteHeader(dict); err != nil {
		return bus.NewError(bus.ErrWriterOpen, "writing container header", err)
	}

	c.started = true
	c.logger.Info("container writer opened", "target", c.target)
	return nil
}

// WritePacket muxes one already-encoded/remapped packet. Callers using
// internal/bus/encode.Encoder or .Copier must remap the packet's stream
// index and timebase before calling this.
//
// Write errors are classified: transient ones are retried here with
// exponential backoff up to writeRetryCap, then reported. A network
// destination that keeps failing past the retry budget with an error
// other than EAGAIN has disconnected and gets ErrWriterDisconnect, which
// callers treat as terminal for the output; everything else is
// ErrWriterWrite, which drops the packet and keeps the output alive.
func (c *Container) WritePacket(pkt *astiav.Packet) error {
	if !c.started {
		return bus.NewError(bus.ErrWriterOpen, "container writer not opened", nil)
	}

	idx := pkt.StreamIndex()
	pts := pkt.Pts()
	if last, ok := c.lastPTS[idx]; ok && pts < last {
		c.logger.Warn("dropping non-monotonic packet", "stream_index", idx, "pts", pts, "last_pts", last)
		return nil
	}
	c.lastPTS[idx] = pts

	backoff := writeRetryBase
	for attempt := 0; ; attempt++ {
		err := c.fctx.WriteInterleavedFrame(pkt)
		if err == nil {
			return nil
		}

		if attempt < writeRetryAttempts && c.retryable(err) {
			c.logger.Warn("write failed, retrying", "target", c.target, "attempt", attempt+1, "backoff", backoff, "error", err)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > writeRetryCap {
				backoff = writeRetryCap
			}
			continue
		}

		if c.isNetwork && !errors.Is(err, astiav.ErrEagain) {
			return bus.NewError(bus.ErrWriterDisconnect, fmt.Sprintf("writing to %s", c.target), err)
		}
		return bus.NewError(bus.ErrWriterWrite, fmt.Sprintf("writing to %s", c.target), err)
	}
}

// retryable reports whether a write error is worth retrying. EAGAIN
// always is; on network destinations every error, timeouts included, gets
// the retry budget before being declared a disconnect, since libavformat
// surfaces brief stalls and connection loss through the same call.
func (c *Container) retryable(err error) bool {
	return errors.Is(err, astiav.ErrEagain) || c.isNetwork
}

// Close writes the container trailer (if the header was ever written)
// and releases the IO context and format context.
func (c *Container) Close() error {
	var err error
	if c.started {
		err = c.fctx.WriteTrailer()
	}
	if c.io != nil {
		if cerr := c.io.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if c.fctx != nil {
		c.fctx.Free()
		c.fctx = nil
	}
	c.logger.Info("container writer closed", "target", c.target)
	return err
}
