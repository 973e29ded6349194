// Package registry implements the codec capability registry: the single
// place that knows which hardware families are worth trying for a given
// codec, what private options make each one behave in production, and
// which of them are actually compiled into the local libav build.
//
// The registry is probed once per process and cached; it never re-probes
// mid-run, matching the bus's assumption that hardware availability does
// not change while it is running.
package registry

import "github.com/asticode/go-astiav"

// Family names a hardware acceleration method, or "software" for a pure
// CPU codec. These mirror the encoder suffixes FFmpeg itself uses
// (h264_vaapi, h264_nvenc, ...).
type Family string

const (
	FamilyVAAPI        Family = "vaapi"
	FamilyNVENC        Family = "nvenc"
	FamilyQSV          Family = "qsv"
	FamilyRKMPP        Family = "rkmpp"
	FamilyV4L2M2M      Family = "v4l2m2m"
	FamilyVideoToolbox Family = "videotoolbox"
	FamilyVulkan       Family = "vulkan"
	FamilyAMF          Family = "amf"
	FamilySoftware     Family = "software"
)

// EncoderCandidate is one entry in a codec's priority-ordered encoder
// list: a concrete FFmpeg encoder name, the hardware family it belongs
// to, and the private options that make it behave well for continuous
// real-time streaming rather than one-shot transcoding.
type EncoderCandidate struct {
	Name         string
	Family       Family
	HWDeviceType astiav.HardwareDeviceType // zero value for software encoders
	// Options are applied to the codec context as private options
	// (the AVDictionary passed to avcodec_open2) before encoding starts.
	Options map[string]string
	// VideoFilterChain records the libavfilter graph description this
	// encoder's input conventionally goes through (e.g. pixel format
	// conversion, hwupload). It is table data only: the encode package
	// does not build or run a filter graph from it.
	VideoFilterChain string
}

// DecoderCandidate is the decode-side analog of EncoderCandidate. Most
// codecs only need libavcodec's generic FindDecoder, so this only
// carries the handful of cases where a dedicated hardware decode path
// exists.
type DecoderCandidate struct {
	Name         string
	Family       Family
	HWDeviceType astiav.HardwareDeviceType
}
