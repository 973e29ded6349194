package muxwriter

import (
	"github.com/asticode/go-astiav"
	"github.com/google/uuid"

	"github.com/smazurov/mediabus/internal/bus"
	"github.com/smazurov/mediabus/internal/bus/bitstream"
	"github.com/smazurov/mediabus/internal/bus/pubsub"
)

// RawFrame hands decoded frames for one output straight to a subscriber
// channel, for outputs that want to consume bus.Frame values directly
// (e.g. an in-process ML inference loop) rather than a muxed container.
type RawFrame struct {
	id    string
	subID uuid.UUID
	bus   *pubsub.Bus[bus.Frame]
	ch    <-chan bus.Frame
}

// NewRawFrame subscribes to frames, returning a RawFrame the caller can
// use to unsubscribe later, plus the channel to range over.
func NewRawFrame(id string, frames *pubsub.Bus[bus.Frame], queueDepth int) (*RawFrame, <-chan bus.Frame) {
	subID, ch := frames.Subscribe(queueDepth)
	w := &RawFrame{id: id, subID: subID, bus: frames, ch: ch}
	return w, ch
}

// Channel returns the subscriber channel passed back by NewRawFrame.
func (w *RawFrame) Channel() <-chan bus.Frame {
	return w.ch
}

// Dropped returns how many frames were dropped because this output's
// consumer fell behind the frame bus.
func (w *RawFrame) Dropped() uint64 {
	return w.bus.Dropped(w.subID)
}

// Close unsubscribes from the frame bus.
func (w *RawFrame) Close() {
	w.bus.Unsubscribe(w.subID)
}

// RawPacket hands undecoded packets for one output straight to a
// subscriber channel, for outputs that want raw access to the bitstream
// (e.g. a custom RTP packetizer) without this package's own muxing. Per
// the output's selected streams, H.264/HEVC packets are run through the
// Bitstream Adapter into Annex B form, the convention RTP payloads and
// raw elementary streams expect, with parameter sets prepended on every
// keyframe so the stream is independently decodable from any keyframe.
type RawPacket struct {
	id      string
	subID   uuid.UUID
	bus     *pubsub.Bus[bus.RawPacket]
	out     chan bus.RawPacket
	done    chan struct{}
	wanted  map[int]bool
	adapt   map[int]streamAdapter
	video   map[int]bool
	seenKey map[int]bool

	lastDropped uint64
}

type streamAdapter struct {
	hevc      bool
	extradata []byte
	lenSize   int
}

// NewRawPacket subscribes to packets for the given source streams,
// returning a RawPacket the caller can use to unsubscribe later, plus
// the channel of adapted packets to range over. Only packets whose
// stream index appears in sources are forwarded; every other stream on
// the shared packet bus is filtered out here, since a RawPacketSink
// only wants the streams its OutputSpec selected.
func NewRawPacket(id string, packets *pubsub.Bus[bus.RawPacket], queueDepth int, sources []bus.ElementaryStream) (*RawPacket, <-chan bus.RawPacket) {
	subID, in := packets.Subscribe(queueDepth)

	wanted := make(map[int]bool, len(sources))
	adapt := make(map[int]streamAdapter, len(sources))
	video := make(map[int]bool, len(sources))
	seenKey := make(map[int]bool, len(sources))
	for _, s := range sources {
		wanted[s.Index] = true
		if !s.IsVideo() {
			continue
		}
		video[s.Index] = true
		switch s.CodecID {
		case astiav.CodecIDH264:
			adapt[s.Index] = streamAdapter{extradata: s.Extradata, lenSize: bitstream.AVCLengthSize(s.Extradata)}
		case astiav.CodecIDHevc:
			adapt[s.Index] = streamAdapter{hevc: true, extradata: s.Extradata, lenSize: bitstream.HEVCLengthSize(s.Extradata)}
		}
	}

	w := &RawPacket{
		id:      id,
		subID:   subID,
		bus:     packets,
		out:     make(chan bus.RawPacket, queueDepth),
		done:    make(chan struct{}),
		wanted:  wanted,
		adapt:   adapt,
		video:   video,
		seenKey: seenKey,
	}
	go w.pump(in)
	return w, w.out
}

func (w *RawPacket) pump(in <-chan bus.RawPacket) {
	defer close(w.out)
	for {
		select {
		case <-w.done:
			return
		case pkt, ok := <-in:
			if !ok {
				return
			}
			if !w.wanted[pkt.StreamIndex] {
				continue
			}

			// The bus silently drops items into a full subscriber queue
			// rather than blocking the publisher; a rising dropped count
			// since our last receive is this subscriber's own Lagged{n}
			// event. Re-arm the keyframe gate so playback resumes cleanly
			// rather than starting mid-GOP.
			if dropped := w.bus.Dropped(w.subID); dropped != w.lastDropped {
				w.lastDropped = dropped
				if w.video[pkt.StreamIndex] {
					w.seenKey[pkt.StreamIndex] = false
				}
			}

			if w.video[pkt.StreamIndex] && !w.seenKey[pkt.StreamIndex] {
				if !pkt.Keyframe {
					continue
				}
				w.seenKey[pkt.StreamIndex] = true
			}

			if a, needsAdapt := w.adapt[pkt.StreamIndex]; needsAdapt {
				pkt.Data = w.adaptPacket(a, pkt)
			}
			select {
			case w.out <- pkt:
			case <-w.done:
				return
			}
		}
	}
}

func (w *RawPacket) adaptPacket(a streamAdapter, pkt bus.RawPacket) []byte {
	var data []byte
	var err error
	if pkt.Keyframe {
		data, err = bitstream.ToAnnexBKeyframe(pkt.Data, a.lenSize, a.extradata, a.hevc)
	} else {
		data, err = bitstream.ToAnnexB(pkt.Data, a.lenSize)
	}
	if err != nil {
		return pkt.Data
	}
	return data
}

// Channel returns the adapted output channel passed back by NewRawPacket.
func (w *RawPacket) Channel() <-chan bus.RawPacket {
	return w.out
}

// Dropped returns how many packets were dropped because this output's
// consumer fell behind the packet bus.
func (w *RawPacket) Dropped() uint64 {
	return w.bus.Dropped(w.subID)
}

// Close unsubscribes from the packet bus and stops the adapter pump.
func (w *RawPacket) Close() {
	close(w.done)
	w.bus.Unsubscribe(w.subID)
}
