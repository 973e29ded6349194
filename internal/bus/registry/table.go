package registry

import "github.com/asticode/go-astiav"

// encoderTable lists, per codec short name, the candidates to try in
// priority order: hardware first, software last. Quality/preset values
// below favor low-latency continuous streaming over peak compression
// efficiency, the same tradeoff a recorder watching a live camera makes.
var encoderTable = map[string][]EncoderCandidate{
	"h264": {
		{
			Name: "h264_vaapi", Family: FamilyVAAPI, HWDeviceType: astiav.HardwareDeviceTypeVAAPI,
			Options:          map[string]string{"qp": "20", "bf": "0"},
			VideoFilterChain: "format=nv12,hwupload",
		},
		{
			Name: "h264_nvenc", Family: FamilyNVENC,
			Options: map[string]string{"preset": "fast", "cq": "20"},
		},
		{
			Name: "h264_qsv", Family: FamilyQSV, HWDeviceType: astiav.HardwareDeviceTypeQSV,
			Options:          map[string]string{"preset": "medium", "global_quality": "20"},
			VideoFilterChain: "hwupload=extra_hw_frames=64,format=qsv",
		},
		{
			Name: "h264_rkmpp", Family: FamilyRKMPP,
			Options: map[string]string{"quality_min": "10", "quality_max": "51", "crf": "20"},
		},
		{
			Name: "h264_v4l2m2m", Family: FamilyV4L2M2M,
			Options: map[string]string{"num_output_buffers": "32", "num_capture_buffers": "16", "b": "1000000"},
		},
		{
			Name: "h264_videotoolbox", Family: FamilyVideoToolbox, HWDeviceType: astiav.HardwareDeviceTypeVideoToolbox,
			Options: map[string]string{"allow_sw": "1", "realtime": "0", "q": "20"},
		},
		{
			Name: "h264_vulkan", Family: FamilyVulkan, HWDeviceType: astiav.HardwareDeviceTypeVulkan,
			Options:          map[string]string{"qp": "18", "g": "60"},
			VideoFilterChain: "format=nv12,hwupload",
		},
		{
			Name: "h264_amf", Family: FamilyAMF,
			Options: map[string]string{"usage": "transcoding", "quality": "balanced", "rc": "cqp", "qp": "20"},
		},
		{
			Name: "libx264", Family: FamilySoftware,
			Options: map[string]string{"crf": "18", "preset": "ultrafast"},
		},
	},
	"hevc": {
		{
			Name: "hevc_vaapi", Family: FamilyVAAPI, HWDeviceType: astiav.HardwareDeviceTypeVAAPI,
			Options:          map[string]string{"qp": "20", "bf": "0"},
			VideoFilterChain: "format=nv12,hwupload",
		},
		{
			Name: "hevc_nvenc", Family: FamilyNVENC,
			Options: map[string]string{"preset": "fast", "cq": "20"},
		},
		{
			Name: "hevc_qsv", Family: FamilyQSV, HWDeviceType: astiav.HardwareDeviceTypeQSV,
			Options:          map[string]string{"preset": "medium", "global_quality": "20"},
			VideoFilterChain: "hwupload=extra_hw_frames=64,format=qsv",
		},
		{
			Name: "hevc_rkmpp", Family: FamilyRKMPP,
			Options: map[string]string{"quality_min": "10", "quality_max": "51", "crf": "20"},
		},
		{
			Name: "hevc_v4l2m2m", Family: FamilyV4L2M2M,
			Options: map[string]string{"num_output_buffers": "32", "num_capture_buffers": "16", "b": "1000000"},
		},
		{
			Name: "hevc_videotoolbox", Family: FamilyVideoToolbox, HWDeviceType: astiav.HardwareDeviceTypeVideoToolbox,
			Options: map[string]string{"allow_sw": "1", "realtime": "0", "q": "20"},
		},
		{
			Name: "hevc_vulkan", Family: FamilyVulkan, HWDeviceType: astiav.HardwareDeviceTypeVulkan,
			Options:          map[string]string{"qp": "20", "g": "60"},
			VideoFilterChain: "format=nv12,hwupload",
		},
		{
			Name: "hevc_amf", Family: FamilyAMF,
			Options: map[string]string{"usage": "transcoding", "quality": "balanced", "rc": "cqp", "qp": "20"},
		},
		{
			Name: "libx265", Family: FamilySoftware,
			Options: map[string]string{"crf": "20", "preset": "ultrafast"},
		},
	},
	// Audio encoders have no hardware family worth trying on this class
	// of hardware; the table still goes through SelectEncoder so a
	// future ASIC/DSP path only needs an entry here, not a second
	// selection code path.
	"aac": {
		{Name: "aac", Family: FamilySoftware, Options: map[string]string{"b": "128000"}},
	},
	"opus": {
		{Name: "libopus", Family: FamilySoftware, Options: map[string]string{"b": "96000"}},
	},
}

// decoderTable lists hardware decode candidates per codec short name.
// Software decode via astiav.FindDecoder is always the final fallback
// and is not listed here.
var decoderTable = map[string][]DecoderCandidate{
	"h264": {
		{Name: "h264_vaapi", Family: FamilyVAAPI, HWDeviceType: astiav.HardwareDeviceTypeVAAPI},
		{Name: "h264_qsv", Family: FamilyQSV, HWDeviceType: astiav.HardwareDeviceTypeQSV},
		{Name: "h264_rkmpp", Family: FamilyRKMPP},
	},
	"hevc": {
		{Name: "hevc_vaapi", Family: FamilyVAAPI, HWDeviceType: astiav.HardwareDeviceTypeVAAPI},
		{Name: "hevc_qsv", Family: FamilyQSV, HWDeviceType: astiav.HardwareDeviceTypeQSV},
		{Name: "hevc_rkmpp", Family: FamilyRKMPP},
	},
}

// codecShortName maps an astiav.CodecID to the key used in encoderTable
// and decoderTable above.
func codecShortName(id astiav.CodecID) (string, bool) {
	switch id {
	case astiav.CodecIDH264:
		return "h264", true
	case astiav.CodecIDHevc:
		return "hevc", true
	case astiav.CodecIDAac:
		return "aac", true
	case astiav.CodecIDOpus:
		return "opus", true
	default:
		return "", false
	}
}
