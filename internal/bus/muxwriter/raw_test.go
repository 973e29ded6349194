package muxwriter

import (
	"testing"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smazurov/mediabus/internal/bus"
	"github.com/smazurov/mediabus/internal/bus/bitstream"
	"github.com/smazurov/mediabus/internal/bus/pubsub"
)

func busForTest() *pubsub.Bus[bus.Frame] {
	return pubsub.New[bus.Frame](nil)
}

func packetsBusForTest() *pubsub.Bus[bus.RawPacket] {
	return pubsub.New[bus.RawPacket](nil)
}

func TestRawFrame_ForwardsPublishedFrames(t *testing.T) {
	frames := busForTest()

	w, ch := NewRawFrame("f", frames, 4)
	defer w.Close()

	frames.Publish(bus.Frame{StreamIndex: 0, PTS: 10})

	select {
	case f := <-ch:
		assert.Equal(t, int64(10), f.PTS)
	case <-time.After(time.Second):
		t.Fatal("did not receive published frame")
	}
}

func TestRawFrame_CloseUnsubscribes(t *testing.T) {
	frames := busForTest()
	w, ch := NewRawFrame("f", frames, 1)

	w.Close()

	_, open := <-ch
	assert.False(t, open)
}

func TestRawPacket_FiltersToSelectedStreams(t *testing.T) {
	packets := packetsBusForTest()
	sources := []bus.ElementaryStream{{Index: 0, CodecType: astiav.MediaTypeAudio}}

	w, ch := NewRawPacket("p", packets, 8, sources)
	defer w.Close()

	packets.Publish(bus.RawPacket{StreamIndex: 0, Data: []byte{0xAA}})
	packets.Publish(bus.RawPacket{StreamIndex: 1, Data: []byte{0xBB}}) // not selected
	packets.Publish(bus.RawPacket{StreamIndex: 0, Data: []byte{0xCC}})

	first := recvPacket(t, ch)
	assert.Equal(t, []byte{0xAA}, first.Data)

	second := recvPacket(t, ch)
	assert.Equal(t, []byte{0xCC}, second.Data)
}

func TestRawPacket_AdaptsH264NonKeyframeToAnnexB(t *testing.T) {
	sources := []bus.ElementaryStream{{Index: 0, CodecType: astiav.MediaTypeVideo, CodecID: astiav.CodecIDH264}}
	packets := packetsBusForTest()

	w, ch := NewRawPacket("p", packets, 4, sources)
	defer w.Close()

	nal := []byte{0x41, 0xAA, 0xBB}
	avcc := append([]byte{0, 0, 0, byte(len(nal))}, nal...)

	// Video is discarded until the first keyframe, so open the gate with
	// one before sending the delta packet under test.
	idr := []byte{0x65, 0x01}
	packets.Publish(bus.RawPacket{StreamIndex: 0, Data: append([]byte{0, 0, 0, byte(len(idr))}, idr...), Keyframe: true})
	recvPacket(t, ch)

	packets.Publish(bus.RawPacket{StreamIndex: 0, Data: avcc, Keyframe: false})

	got := recvPacket(t, ch)
	want, err := bitstream.ToAnnexB(avcc, 4)
	require.NoError(t, err)
	assert.Equal(t, want, got.Data)
}

func TestRawPacket_PrependsParameterSetsOnKeyframe(t *testing.T) {
	sps := []byte{0x67, 0x64, 0x00, 0x1f}
	pps := []byte{0x68, 0xEB}
	extradata := buildAVCExtradata(sps, pps)

	sources := []bus.ElementaryStream{{
		Index: 0, CodecType: astiav.MediaTypeVideo, CodecID: astiav.CodecIDH264, Extradata: extradata,
	}}
	packets := packetsBusForTest()

	w, ch := NewRawPacket("p", packets, 4, sources)
	defer w.Close()

	idr := []byte{0x65, 0x01}
	avcc := append([]byte{0, 0, 0, byte(len(idr))}, idr...)
	packets.Publish(bus.RawPacket{StreamIndex: 0, Data: avcc, Keyframe: true})

	got := recvPacket(t, ch)
	want, err := bitstream.ToAnnexBKeyframe(avcc, 4, extradata, false)
	require.NoError(t, err)
	assert.Equal(t, want, got.Data)
}

func TestRawPacket_NonVideoStreamsPassThroughUnadapted(t *testing.T) {
	sources := []bus.ElementaryStream{{Index: 0, CodecType: astiav.MediaTypeAudio}}
	packets := packetsBusForTest()

	w, ch := NewRawPacket("p", packets, 4, sources)
	defer w.Close()

	raw := []byte{0, 0, 0, 2, 0xAA, 0xBB} // would look like AVCC if treated as video
	packets.Publish(bus.RawPacket{StreamIndex: 0, Data: raw})

	got := recvPacket(t, ch)
	assert.Equal(t, raw, got.Data)
}

func TestRawPacket_CloseStopsPumpAndClosesChannel(t *testing.T) {
	sources := []bus.ElementaryStream{{Index: 0, CodecType: astiav.MediaTypeAudio}}
	packets := packetsBusForTest()

	w, ch := NewRawPacket("p", packets, 1, sources)
	w.Close()

	_, open := <-ch
	assert.False(t, open)
}

func recvPacket(t *testing.T, ch <-chan bus.RawPacket) bus.RawPacket {
	t.Helper()
	select {
	case pkt := <-ch:
		return pkt
	case <-time.After(time.Second):
		t.Fatal("did not receive packet")
		return bus.RawPacket{}
	}
}

func buildAVCExtradata(sps, pps []byte) []byte {
	extradata := []byte{1, 0x64, 0, 0x1f, 0xFF, byte(0xE0 | 1)}
	extradata = append(extradata, byte(len(sps)>>8), byte(len(sps)))
	extradata = append(extradata, sps...)
	extradata = append(extradata, 1)
	extradata = append(extradata, byte(len(pps)>>8), byte(len(pps)))
	extradata = append(extradata, pps...)
	return extradata
}
