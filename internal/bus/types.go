// Package bus implements the media bus: a single input demuxer fanning
// packets and decoded frames out to any number of independently
// configured outputs, each able to ask for a raw copy, a transcode, or a
// remux of the source streams.
package bus

import (
	"fmt"
	"time"

	"github.com/asticode/go-astiav"
)

// InputConfig describes the single source the bus reads from.
type InputConfig struct {
	// URL is anything libavformat's demuxer can open: a file path, an
	// rtsp:// URL, a v4l2 device node via its lavfi/v4l2 input format, etc.
	URL string
	// Format optionally forces a demuxer (e.g. "v4l2", "lavfi") instead of
	// relying on libavformat's probe.
	Format string
	// Options are passed to the demuxer as AVOptions (e.g. rtsp_transport).
	Options map[string]string
}

// ElementaryStream describes one stream discovered by probing the input.
type ElementaryStream struct {
	Index     int
	CodecType astiav.MediaType
	CodecID   astiav.CodecID
	TimeBase  astiav.Rational
	Extradata []byte

	// Video fields, zero for non-video streams.
	Width       int
	Height      int
	PixelFormat astiav.PixelFormat
	FrameRate   astiav.Rational

	// Audio fields, zero for non-audio streams.
	SampleRate    int
	Channels      int
	ChannelLayout astiav.ChannelLayout
	SampleFormat  astiav.SampleFormat
}

// NetInput builds an InputConfig for a network source
// (rtsp/rtmp/http/https URL); libavformat probes the demuxer.
func NetInput(url string) InputConfig {
	return InputConfig{URL: url}
}

// FileInput builds an InputConfig for a local file.
func FileInput(path string) InputConfig {
	return InputConfig{URL: path}
}

// DeviceInput builds an InputConfig for a capture device or generated
// source. kind names the input format (v4l2, x11grab, dshow, gdigrab,
// lavfi); target is the device node, display, or filter graph that
// format expects.
func DeviceInput(kind, target string) InputConfig {
	return InputConfig{URL: target, Format: kind}
}

// IsVideo reports whether the stream carries video.
func (s ElementaryStream) IsVideo() bool {
	return s.CodecType == astiav.MediaTypeVideo
}

// IsAudio reports whether the stream carries audio.
func (s ElementaryStream) IsAudio() bool {
	return s.CodecType == astiav.MediaTypeAudio
}

// RawPacket is one compressed access unit as it travels on the packet bus.
// Data is an owned copy; subscribers may retain it past the publish call.
type RawPacket struct {
	StreamIndex int
	Data        []byte
	PTS         int64
	DTS         int64
	Duration    int64
	TimeBase    astiav.Rational
	Keyframe    bool
}

// ToAstiav materializes the raw packet back into a freshly allocated
// astiav.Packet, for subscribers that need to hand it to libav (a muxer
// or a decoder). The caller owns the returned packet and must Free it.
func (p RawPacket) ToAstiav() (*astiav.Packet, error) {
	pkt := astiav.AllocPacket()
	if pkt == nil {
		return nil, fmt.Errorf("bus: failed to allocate packet")
	}
	if err := pkt.FromData(p.Data); err != nil {
		pkt.Free()
		return nil, fmt.Errorf("bus: filling packet data: %w", err)
	}
	pkt.SetStreamIndex(p.StreamIndex)
	pkt.SetPts(p.PTS)
	pkt.SetDts(p.DTS)
	pkt.SetDuration(p.Duration)
	if p.Keyframe {
		pkt.SetFlags(pkt.Flags().Add(astiav.PacketFlagKey))
	}
	return pkt, nil
}

// Frame is one decoded audio or video frame as it travels on the frame
// bus. Exactly one of the video or audio fields is populated, mirroring
// the stream's CodecType.
type Frame struct {
	StreamIndex int
	PTS         int64
	TimeBase    astiav.Rational

	// Video picture data, already copied out of the decoder's internal
	// buffers: every plane packed into Planes[0] with alignment 1.
	// Linesize is not filled in.
	Planes   [][]byte
	Linesize []int
	Width    int
	Height   int
	PixFmt   astiav.PixelFormat

	// Audio data: interleaved or planar samples depending on SampleFormat.
	Samples       [][]byte
	SampleCount   int
	SampleRate    int
	Channels      int
	ChannelLayout astiav.ChannelLayout
	SampleFormat  astiav.SampleFormat
}

// FillAstiav copies the frame's payload into dst, allocating dst's
// buffers for the frame's geometry or sample layout. dst is reusable
// across calls; it is Unref'd first.
func (f Frame) FillAstiav(dst *astiav.Frame) error {
	dst.Unref()

	if f.Width > 0 && f.Height > 0 {
		dst.SetWidth(f.Width)
		dst.SetHeight(f.Height)
		dst.SetPixelFormat(f.PixFmt)
		if err := dst.AllocBuffer(1); err != nil {
			return fmt.Errorf("bus: allocating video frame buffer: %w", err)
		}
		if len(f.Planes) > 0 {
			if err := dst.Data().SetBytes(f.Planes[0], 1); err != nil {
				return fmt.Errorf("bus: filling video frame data: %w", err)
			}
		}
	} else {
		dst.SetSampleRate(f.SampleRate)
		dst.SetChannelLayout(f.ChannelLayout)
		dst.SetSampleFormat(f.SampleFormat)
		dst.SetNbSamples(f.SampleCount)
		if err := dst.AllocBuffer(0); err != nil {
			return fmt.Errorf("bus: allocating audio frame buffer: %w", err)
		}
		if len(f.Samples) > 0 {
			if err := dst.Data().SetBytes(f.Samples[0], 0); err != nil {
				return fmt.Errorf("bus: filling audio frame data: %w", err)
			}
		}
	}

	dst.SetPts(f.PTS)
	return nil
}

// OutputKind selects which writer implementation handles an OutputSpec.
type OutputKind string

const (
	// OutputKindContainerMux muxes encoded (or copied) packets into a
	// container and writes it to a file or network URL.
	OutputKindContainerMux OutputKind = "container_mux"
	// OutputKindRawFrame delivers decoded frames to a subscriber channel,
	// for in-process consumers (e.g. a motion detector).
	OutputKindRawFrame OutputKind = "raw_frame"
	// OutputKindRawPacket delivers raw, possibly re-muxed packets to a
	// subscriber channel without touching a container.
	OutputKindRawPacket OutputKind = "raw_packet"
)

// RateControlMode selects how an encoder's output bitrate is governed.
type RateControlMode string

const (
	RateControlCBR RateControlMode = "cbr"
	RateControlVBR RateControlMode = "vbr"
	RateControlCRF RateControlMode = "crf"
	RateControlCQP RateControlMode = "cqp"
)

// EncodeOpts parameterizes a transcoding output. Pointer fields are
// optional; nil means "let the selected encoder's default stand."
type EncodeOpts struct {
	Mode             RateControlMode
	TargetBitrate    *int64 // bits/sec
	MaxBitrate       *int64
	BufferSize       *int64
	Quality          *int // CRF/QP value, encoder-dependent scale
	Preset           *string
	BFrames          *int
	KeyframeInterval *int
	Width            *int // 0/nil: no scaling
	Height           *int
	PreferredEncoder string // explicit override, bypasses hardware-first selection
}

// StreamSelector picks which of the input's elementary streams an output
// wants, and what to do with them.
type StreamSelector struct {
	StreamIndex int
	Transcode   bool // false: copy packets through unchanged (remux only)
	Encode      *EncodeOpts
}

// OutputSpec describes one add_output request.
type OutputSpec struct {
	ID      string
	Kind    OutputKind
	Target  string // file path or URL for OutputKindContainerMux
	Streams []StreamSelector
}

// OutputStatus is the per-output telemetry slice of Status: monotonic
// write and lag counters plus the most recent error, if any.
type OutputStatus struct {
	ID             string
	Kind           OutputKind
	PacketsWritten uint64
	BytesWritten   uint64
	Lagged         uint64
	LastError      string
	LastErrorAt    time.Time
}

// Status is a snapshot of the bus's runtime state, returned by status().
type Status struct {
	InputOpen            bool
	InputError           string // last fatal reader error, empty while healthy
	Streams              []ElementaryStream
	Outputs              []OutputStatus
	UnknownStreamPackets uint64
	HardwareFallback     map[string]string // requested encoder -> selected encoder
	StartedAt            time.Time
}

// ErrorCode tags a bus error with the taxonomy category that caused it,
// so callers can branch on failure kind without string matching.
type ErrorCode string

const (
	ErrInputOpen          ErrorCode = "input_open"
	ErrNoStreams          ErrorCode = "no_streams"
	ErrAlreadyHasInput    ErrorCode = "already_has_input"
	ErrInputClosing       ErrorCode = "input_closing"
	ErrNoInput            ErrorCode = "no_input"
	ErrDuplicateID        ErrorCode = "duplicate_id"
	ErrUnknownOutput      ErrorCode = "unknown_output"
	ErrIncompatibleOutput ErrorCode = "incompatible_output"
	ErrDecoderInit        ErrorCode = "decoder_init"
	ErrEncoderInit        ErrorCode = "encoder_init"
	ErrWriterOpen         ErrorCode = "writer_open"
	ErrWriterWrite        ErrorCode = "writer_write"      // recoverable; the packet is dropped
	ErrWriterDisconnect   ErrorCode = "writer_disconnect" // terminal; the output is torn down
)

// Error is the bus's sentinel error type: a stable code plus the
// underlying cause, so callers can errors.Is/As against Code while a
// human still gets the real libav or I/O error in the message.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError constructs a tagged bus Error.
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}
