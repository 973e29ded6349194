package encode

import (
	"github.com/asticode/go-astiav"
)

// Copier passes a stream's packets through to an output unchanged apart
// from stream index remapping and timebase rescaling, for outputs that
// request Transcode: false. It never touches the frame bus or a codec
// context at all.
//
// For video streams it also gates on the first keyframe: the first
// packet a copy output hands its writer must be a keyframe, so every
// packet before the stream's first IDR is discarded rather than
// producing a file that can't be decoded from byte zero.
// Resync re-arms that gate; callers invoke it after observing a Lagged
// event on the packet bus, since a dropped run of packets can land the
// subscriber mid-GOP just as easily as startup can.
type Copier struct {
	outputStreamIndex int
	srcTimeBase       astiav.Rational
	dstTimeBase       astiav.Rational
	isVideo           bool
	seenKeyframe      bool
}

// NewCopier builds a passthrough packet remapper for one output stream.
func NewCopier(outputStreamIndex int, srcTimeBase, dstTimeBase astiav.Rational, isVideo bool) *Copier {
	return &Copier{outputStreamIndex: outputStreamIndex, srcTimeBase: srcTimeBase, dstTimeBase: dstTimeBase, isVideo: isVideo}
}

// Accept reports whether a packet with the given keyframe flag should be
// forwarded. Audio packets and any video packet once a keyframe has been
// seen are always accepted; video packets before the first keyframe are
// dropped.
func (c *Copier) Accept(keyframe bool) bool {
	if !c.isVideo {
		return true
	}
	if !c.seenKeyframe {
		if !keyframe {
			return false
		}
		c.seenKeyframe = true
	}
	return true
}

// Resync re-arms the keyframe gate, forcing the next video packet to be
// a keyframe before further packets are forwarded again.
func (c *Copier) Resync() {
	c.seenKeyframe = false
}

// Remap rewrites pkt's stream index and timestamps in place for the
// target output. It does not take ownership of pkt; the caller remains
// responsible for freeing it once it has been written.
func (c *Copier) Remap(pkt *astiav.Packet) {
	pkt.SetStreamIndex(c.outputStreamIndex)
	pkt.RescaleTs(c.srcTimeBase, c.dstTimeBase)
}
