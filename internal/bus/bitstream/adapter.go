// Package bitstream converts H.264/HEVC access units between the two
// bitstream conventions the bus has to bridge: AVCC (length-prefixed
// NAL units, the form libavformat hands back from an MP4/MOV demuxer and
// the form most muxers expect on write) and Annex B (start-code
// delimited NAL units, the form RTP/RTSP payloads and raw .h264/.hevc
// elementary streams use).
//
// The transform is implemented directly against the two format
// definitions (ISO/IEC 14496-15 for the length-prefixed side) rather
// than through libavformat's h264_mp4toannexb/hevc_mp4toannexb
// bitstream filters, which would tie a pure byte transform to a codec
// context it doesn't need.
package bitstream

import (
	"encoding/binary"
	"fmt"
)

var startCode = []byte{0, 0, 0, 1}

// AVCLengthSize reads the NAL length field width out of an AVC
// (ISO/IEC 14496-15) AVCDecoderConfigurationRecord. Returns 4 (the
// overwhelmingly common case) if extradata is absent or malformed.
func AVCLengthSize(extradata []byte) int {
	if len(extradata) < 5 || extradata[0] != 1 {
		return 4
	}
	return int(extradata[4]&0x3) + 1
}

// HEVCLengthSize reads the NAL length field width out of an HEVC
// (ISO/IEC 14496-15) HEVCDecoderConfigurationRecord. Returns 4 if
// extradata is absent or malformed.
func HEVCLengthSize(extradata []byte) int {
	if len(extradata) < 22 {
		return 4
	}
	return int(extradata[21]&0x3) + 1
}

// IsAnnexB reports whether data already begins with a 3- or 4-byte Annex
// B start code, the check both directions use to stay idempotent.
func IsAnnexB(data []byte) bool {
	if len(data) >= 4 && data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1 {
		return true
	}
	return len(data) >= 3 && data[0] == 0 && data[1] == 0 && data[2] == 1
}

// ToAnnexB rewrites a length-prefixed (AVCC) access unit into start-code
// delimited (Annex B) form. lengthSize is the NAL length field width
// from the stream's AVCDecoderConfigurationRecord (1, 2, or 4 bytes).
// Already-Annex-B input is returned unchanged.
func ToAnnexB(avcc []byte, lengthSize int) ([]byte, error) {
	if IsAnnexB(avcc) {
		return avcc, nil
	}
	if lengthSize != 1 && lengthSize != 2 && lengthSize != 4 {
		return nil, fmt.Errorf("bitstream: invalid NAL length size %d", lengthSize)
	}

	out := make([]byte, 0, len(avcc)+16)
	for offset := 0; offset < len(avcc); {
		if offset+lengthSize > len(avcc) {
			return nil, fmt.Errorf("bitstream: truncated NAL length at offset %d", offset)
		}

		nalLen := readLength(avcc[offset:offset+lengthSize], lengthSize)
		offset += lengthSize

		if offset+nalLen > len(avcc) {
			return nil, fmt.Errorf("bitstream: NAL unit length %d overruns buffer at offset %d", nalLen, offset)
		}

		out = append(out, startCode...)
		out = append(out, avcc[offset:offset+nalLen]...)
		offset += nalLen
	}

	return out, nil
}

// ToAnnexBKeyframe is ToAnnexB for a keyframe access unit, additionally
// prepending the parameter sets (SPS/PPS, or VPS/SPS/PPS for HEVC)
// extracted from extradata so the output is independently decodable
// from this access unit on, matching how an Annex B elementary stream
// or RTP payload expects every keyframe to carry its own parameter
// sets rather than relying on an out-of-band container header.
func ToAnnexBKeyframe(avcc []byte, lengthSize int, extradata []byte, hevc bool) ([]byte, error) {
	body, err := ToAnnexB(avcc, lengthSize)
	if err != nil {
		return nil, err
	}

	var paramSets [][]byte
	if hevc {
		paramSets = hevcParameterSets(extradata)
	} else {
		paramSets = avcParameterSets(extradata)
	}
	if len(paramSets) == 0 {
		return body, nil
	}

	out := make([]byte, 0, len(body)+len(extradata)+len(paramSets)*4)
	for _, ps := range paramSets {
		out = append(out, startCode...)
		out = append(out, ps...)
	}
	out = append(out, body...)
	return out, nil
}

// avcParameterSets extracts SPS then PPS NAL units from an AVC
// (ISO/IEC 14496-15) AVCDecoderConfigurationRecord.
func avcParameterSets(extradata []byte) [][]byte {
	if len(extradata) < 6 || extradata[0] != 1 {
		return nil
	}

	var sets [][]byte
	offset := 5
	numSPS := int(extradata[offset] & 0x1f)
	offset++
	for i := 0; i < numSPS && offset+2 <= len(extradata); i++ {
		l := int(binary.BigEndian.Uint16(extradata[offset : offset+2]))
		offset += 2
		if offset+l > len(extradata) {
			return sets
		}
		sets = append(sets, extradata[offset:offset+l])
		offset += l
	}

	if offset >= len(extradata) {
		return sets
	}
	numPPS := int(extradata[offset])
	offset++
	for i := 0; i < numPPS && offset+2 <= len(extradata); i++ {
		l := int(binary.BigEndian.Uint16(extradata[offset : offset+2]))
		offset += 2
		if offset+l > len(extradata) {
			return sets
		}
		sets = append(sets, extradata[offset:offset+l])
		offset += l
	}

	return sets
}

// hevcParameterSets extracts VPS/SPS/PPS NAL units from an HEVC
// (ISO/IEC 14496-15) HEVCDecoderConfigurationRecord. The fixed header
// before the NAL array list is 22 bytes.
func hevcParameterSets(extradata []byte) [][]byte {
	const fixedHeader = 22
	if len(extradata) < fixedHeader+1 {
		return nil
	}

	var sets [][]byte
	offset := fixedHeader
	numArrays := int(extradata[offset])
	offset++

	for a := 0; a < numArrays; a++ {
		if offset+3 > len(extradata) {
			return sets
		}
		offset++ // array_completeness + reserved + NAL_unit_type
		numNalus := int(binary.BigEndian.Uint16(extradata[offset : offset+2]))
		offset += 2
		for i := 0; i < numNalus; i++ {
			if offset+2 > len(extradata) {
				return sets
			}
			l := int(binary.BigEndian.Uint16(extradata[offset : offset+2]))
			offset += 2
			if offset+l > len(extradata) {
				return sets
			}
			sets = append(sets, extradata[offset:offset+l])
			offset += l
		}
	}

	return sets
}

// ToAVCC rewrites a start-code delimited (Annex B) access unit into
// length-prefixed (AVCC) form using the given length field width.
// Input that isn't Annex B is assumed to already be AVCC and is
// returned unchanged.
func ToAVCC(annexB []byte, lengthSize int) ([]byte, error) {
	if !IsAnnexB(annexB) {
		return annexB, nil
	}
	if lengthSize != 1 && lengthSize != 2 && lengthSize != 4 {
		return nil, fmt.Errorf("bitstream: invalid NAL length size %d", lengthSize)
	}

	nals := splitAnnexB(annexB)
	out := make([]byte, 0, len(annexB))

	for _, nal := range nals {
		if len(nal) > maxLength(lengthSize) {
			return nil, fmt.Errorf("bitstream: NAL unit of %d bytes exceeds %d-byte length field", len(nal), lengthSize)
		}
		out = append(out, writeLength(len(nal), lengthSize)...)
		out = append(out, nal...)
	}

	return out, nil
}

// splitAnnexB splits a start-code delimited buffer into individual NAL
// units, accepting both 3-byte (0x000001) and 4-byte (0x00000001) start
// codes.
func splitAnnexB(buf []byte) [][]byte {
	var starts []int
	for i := 0; i+2 < len(buf); i++ {
		if buf[i] == 0 && buf[i+1] == 0 && buf[i+2] == 1 {
			starts = append(starts, i+3)
		}
	}

	if len(starts) == 0 {
		return nil
	}

	var nals [][]byte
	for i, start := range starts {
		end := len(buf)
		if i+1 < len(starts) {
			end = trimTrailingZero(buf, starts[i+1]-3)
		}
		if end > start {
			nals = append(nals, buf[start:end])
		}
	}
	return nals
}

// trimTrailingZero backs up over the extra zero byte a 4-byte start code
// leaves before the next NAL's 3-byte start code sequence.
func trimTrailingZero(buf []byte, end int) int {
	if end > 0 && buf[end-1] == 0 {
		return end - 1
	}
	return end
}

func readLength(b []byte, size int) int {
	switch size {
	case 1:
		return int(b[0])
	case 2:
		return int(binary.BigEndian.Uint16(b))
	default:
		return int(binary.BigEndian.Uint32(b))
	}
}

func writeLength(n, size int) []byte {
	b := make([]byte, size)
	switch size {
	case 1:
		b[0] = byte(n)
	case 2:
		binary.BigEndian.PutUint16(b, uint16(n))
	default:
		binary.BigEndian.PutUint32(b, uint32(n))
	}
	return b
}

func maxLength(size int) int {
	switch size {
	case 1:
		return 1<<8 - 1
	case 2:
		return 1<<16 - 1
	default:
		return 1<<32 - 1
	}
}
