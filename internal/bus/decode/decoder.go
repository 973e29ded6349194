// Package decode implements the decoder task: one astiav.CodecContext
// per elementary stream, subscribed to the packet bus and publishing
// decoded frames to the frame bus. Decoders are refcounted and lazily
// started, since most elementary streams never need decoding at all
// (remux-only and raw-packet outputs never touch this package).
package decode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/asticode/go-astiav"
	"github.com/google/uuid"

	"github.com/smazurov/mediabus/internal/bus"
	"github.com/smazurov/mediabus/internal/bus/pubsub"
	"github.com/smazurov/mediabus/internal/bus/registry"
	"github.com/smazurov/mediabus/internal/logging"
)

// Decoder owns one stream's astiav.CodecContext and runs as its own
// task: it consumes its stream's packets off the packet bus and
// publishes bus.Frame values on the frame bus. The task is alive
// exactly while at least one transcoding output holds a Retain.
type Decoder struct {
	stream  bus.ElementaryStream
	packets *pubsub.Bus[bus.RawPacket]
	frames  *pubsub.Bus[bus.Frame]
	logger  logging.Logger

	mu      sync.Mutex
	ctx     *astiav.CodecContext
	frame   *astiav.Frame
	refs    atomic.Int32
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// New constructs a Decoder for stream, consuming from packets and
// publishing onto frames. Nothing runs until the first Retain.
func New(stream bus.ElementaryStream, packets *pubsub.Bus[bus.RawPacket], frames *pubsub.Bus[bus.Frame], logger logging.Logger) *Decoder {
	return &Decoder{stream: stream, packets: packets, frames: frames, logger: logger}
}

// Retain increments the decoder's reference count; the 0->1 transition
// opens the codec context, subscribes to the packet bus, and starts the
// decode task. Every Retain must be matched with a Release.
func (d *Decoder) Retain(reg *registry.Registry) error {
	if d.refs.Add(1) == 1 {
		if err := d.start(reg); err != nil {
			d.refs.Add(-1)
			return err
		}
	}
	return nil
}

// Release decrements the reference count; the 1->0 transition stops the
// decode task, which unsubscribes and tears the codec context down.
func (d *Decoder) Release() {
	if d.refs.Add(-1) == 0 {
		d.mu.Lock()
		stop := d.stop
		d.mu.Unlock()
		if stop != nil {
			close(stop)
		}
	}
}

// Done returns a channel closed once the decode task has exited and
// published its final frames. A decoder that never started reports done
// immediately.
func (d *Decoder) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return d.done
}

func (d *Decoder) start(reg *registry.Registry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return nil
	}
	if err := d.openLocked(reg); err != nil {
		return err
	}

	d.started = true
	d.stop = make(chan struct{})
	d.done = make(chan struct{})

	// Same queue depth as the other packet-bus subscribers; the decoder
	// must survive consumer jitter or every transcode output lags with it.
	subID, in := d.packets.Subscribe(1024)
	go d.run(subID, in, d.stop, d.done)
	return nil
}

func (d *Decoder) openLocked(reg *registry.Registry) error {
	var codec *astiav.Codec
	if hw, ok := reg.SelectDecoder(d.stream.CodecID); ok {
		codec = astiav.FindDecoderByName(hw.Name)
	}
	if codec == nil {
		codec = astiav.FindDecoder(d.stream.CodecID)
	}
	if codec == nil {
		return bus.NewError(bus.ErrDecoderInit, fmt.Sprintf("no decoder available for codec id %v", d.stream.CodecID), nil)
	}

	cctx := astiav.AllocCodecContext(codec)
	if cctx == nil {
		return bus.NewError(bus.ErrDecoderInit, "failed to allocate codec context", nil)
	}

	// Rebuild the probed stream's parameters (including extradata, which
	// H.264/HEVC decoders need for out-of-band parameter sets) and apply
	// them onto the context in one shot.
	params := astiav.AllocCodecParameters()
	if params != nil {
		params.SetMediaType(d.stream.CodecType)
		params.SetCodecID(d.stream.CodecID)
		if d.stream.IsVideo() {
			params.SetWidth(d.stream.Width)
			params.SetHeight(d.stream.Height)
			params.SetFormat(int(d.stream.PixelFormat))
		} else if d.stream.IsAudio() {
			params.SetSampleRate(d.stream.SampleRate)
			params.SetChannelLayout(d.stream.ChannelLayout)
			params.SetFormat(int(d.stream.SampleFormat))
		}
		if len(d.stream.Extradata) > 0 {
			params.SetExtraData(d.stream.Extradata)
		}
		if err := params.ToCodecContext(cctx); err != nil {
			params.Free()
			cctx.Free()
			return bus.NewError(bus.ErrDecoderInit, "applying stream parameters", err)
		}
		params.Free()
	}
	cctx.SetTimeBase(d.stream.TimeBase)

	if err := cctx.Open(codec, nil); err != nil {
		cctx.Free()
		return bus.NewError(bus.ErrDecoderInit, fmt.Sprintf("opening decoder %s", codec.Name()), err)
	}

	d.ctx = cctx
	d.frame = astiav.AllocFrame()
	d.logger.Info("decoder opened", "stream_index", d.stream.Index, "codec", codec.Name())
	return nil
}

// run is the decode task body. It exits on Release (stop), on packet
// bus end-of-stream (after draining the codec's buffered frames), or on
// a fatal codec error.
func (d *Decoder) run(subID uuid.UUID, in <-chan bus.RawPacket, stop, done chan struct{}) {
	defer close(done)
	defer d.close()
	defer d.packets.Unsubscribe(subID)

	ctx := context.Background()
	var lastDropped uint64
	waitKey := false

	for {
		select {
		case <-stop:
			return
		case rp, ok := <-in:
			if !ok {
				if err := d.drainEOS(ctx); err != nil {
					d.logger.Warn("decoder flush failed", "stream_index", d.stream.Index, "error", err)
				}
				return
			}
			if rp.StreamIndex != d.stream.Index {
				continue
			}

			// A rising dropped count is this subscriber's Lagged{n}: the
			// decoder lost packets, so anything mid-GOP is undecodable
			// until the next keyframe arrives.
			if dropped := d.packets.Dropped(subID); dropped != lastDropped {
				d.logger.Warn("decoder lagged, resuming at next keyframe", "stream_index", d.stream.Index, "dropped", dropped)
				lastDropped = dropped
				waitKey = d.stream.IsVideo()
			}
			if waitKey {
				if !rp.Keyframe {
					continue
				}
				waitKey = false
			}

			if err := d.decode(ctx, rp); err != nil {
				if isFatalDecodeError(err) {
					d.logger.Error("decoder failed", "stream_index", d.stream.Index, "error", err)
					return
				}
				// Recoverable per-packet error: drop the packet.
				d.logger.Debug("dropping undecodable packet", "stream_index", d.stream.Index, "error", err)
			}
		}
	}
}

// isFatalDecodeError separates per-packet decode failures (skip the
// packet) from codec-level failures that end the task. EOF from the
// codec outside the flush path means it will accept nothing further.
func isFatalDecodeError(err error) bool {
	return errors.Is(err, astiav.ErrEof)
}

// decode feeds one raw packet to the codec and publishes every frame it
// yields onto the frame bus.
func (d *Decoder) decode(ctx context.Context, rp bus.RawPacket) error {
	pkt, err := rp.ToAstiav()
	if err != nil {
		return err
	}
	defer pkt.Free()

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ctx.SendPacket(pkt); err != nil {
		return fmt.Errorf("decode: send packet: %w", err)
	}
	return d.receiveLocked(ctx)
}

// drainEOS flushes the codec at end-of-stream and publishes its
// remaining buffered frames.
func (d *Decoder) drainEOS(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ctx.SendPacket(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
		return fmt.Errorf("decode: flush send: %w", err)
	}
	return d.receiveLocked(ctx)
}

func (d *Decoder) receiveLocked(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := d.ctx.ReceiveFrame(d.frame)
		if err != nil {
			if errors.Is(err, astiav.ErrEof) || errors.Is(err, astiav.ErrEagain) {
				return nil
			}
			return fmt.Errorf("decode: receive frame: %w", err)
		}

		d.frames.Publish(copyFrame(d.stream.Index, d.frame))
		d.frame.Unref()
	}
}

func (d *Decoder) close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return
	}
	if d.frame != nil {
		d.frame.Free()
		d.frame = nil
	}
	if d.ctx != nil {
		d.ctx.Free()
		d.ctx = nil
	}
	d.started = false
	d.logger.Info("decoder closed", "stream_index", d.stream.Index)
}

// copyFrame detaches a decoded astiav.Frame's data into an owned
// bus.Frame so it can safely outlive the decoder's reused frame buffer
// once it reaches subscribers.
func copyFrame(streamIndex int, f *astiav.Frame) bus.Frame {
	out := bus.Frame{
		StreamIndex: streamIndex,
		PTS:         f.Pts(),
		TimeBase:    f.TimeBase(),
		Width:       f.Width(),
		Height:      f.Height(),
		PixFmt:      f.PixelFormat(),
	}

	if out.Width > 0 && out.Height > 0 {
		planeCount, _ := f.ImageBufferSize(1)
		if planeCount > 0 {
			buf := make([]byte, planeCount)
			if n, err := f.ImageCopyToBuffer(buf, 1); err == nil {
				out.Planes = [][]byte{buf[:n]}
			}
		}
	} else if f.NbSamples() > 0 {
		out.SampleCount = f.NbSamples()
		out.SampleRate = f.SampleRate()
		out.ChannelLayout = f.ChannelLayout()
		out.Channels = out.ChannelLayout.Channels()
		out.SampleFormat = f.SampleFormat()
		if b, err := f.Data().Bytes(0); err == nil {
			out.Samples = [][]byte{b}
		}
	}

	return out
}
