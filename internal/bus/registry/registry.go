package registry

import (
	"fmt"
	"strconv"

	"github.com/asticode/go-astiav"
)

// Registry is the codec capability registry. It is safe for concurrent
// use; all its state is either immutable tables or the process-wide,
// once-probed compiled set.
type Registry struct{}

// New returns a Registry. Construction is free; the expensive probing
// happens lazily and only once, on first selection call.
func New() *Registry {
	return &Registry{}
}

// SelectEncoder picks the highest-priority compiled encoder for codecID,
// honoring an explicit override if given and compiled. It returns
// fallback=true when the caller's preferred/first-choice candidate
// wasn't available and a lower-priority one was substituted.
func (r *Registry) SelectEncoder(codecID astiav.CodecID, preferredEncoder string) (candidate EncoderCandidate, fallback bool, err error) {
	short, ok := codecShortName(codecID)
	if !ok {
		return EncoderCandidate{}, false, fmt.Errorf("no encoder table entry for codec id %v", codecID)
	}

	candidates := encoderTable[short]

	if preferredEncoder != "" {
		for _, c := range candidates {
			if c.Name == preferredEncoder {
				if c.Family == FamilySoftware || isEncoderCompiled(c.Name) {
					return c, false, nil
				}
				break
			}
		}
		// Preferred encoder is unknown or not compiled; fall through to
		// priority search and report the substitution.
	}

	for i, c := range candidates {
		if c.Family == FamilySoftware || isEncoderCompiled(c.Name) {
			return c, preferredEncoder != "" || i > 0, nil
		}
	}

	return EncoderCandidate{}, false, fmt.Errorf("no working encoder found for codec %s", short)
}

// SelectDecoder picks a hardware decode candidate for codecID if one is
// compiled, otherwise reports that the caller should fall back to plain
// astiav.FindDecoder software decode.
func (r *Registry) SelectDecoder(codecID astiav.CodecID) (candidate DecoderCandidate, ok bool) {
	short, known := codecShortName(codecID)
	if !known {
		return DecoderCandidate{}, false
	}

	for _, c := range decoderTable[short] {
		if isDecoderCompiled(c.Name) {
			return c, true
		}
	}
	return DecoderCandidate{}, false
}

// RateControlOptions translates the rate-control knobs of an encode
// request into private options, the same split DefaultSelector's
// populateQualityParams used to make between CBR/VBR/CRF/CQP. These are
// merged on top of the chosen EncoderCandidate's own Options so an
// explicit caller request (e.g. a specific bitrate) wins over the
// family's baseline production settings.
func RateControlOptions(mode string, bitrate, maxBitrate, bufferSize *int64, quality, gop, bframes *int, preset *string) map[string]string {
	opts := make(map[string]string)

	switch mode {
	case "cbr":
		if bitrate != nil {
			opts["b"] = strconv.FormatInt(*bitrate, 10)
			opts["minrate"] = opts["b"]
			opts["maxrate"] = opts["b"]
		}
		if bufferSize != nil {
			opts["bufsize"] = strconv.FormatInt(*bufferSize, 10)
		}
	case "vbr":
		if bitrate != nil {
			opts["b"] = strconv.FormatInt(*bitrate, 10)
		}
		if maxBitrate != nil {
			opts["maxrate"] = strconv.FormatInt(*maxBitrate, 10)
		}
		if bufferSize != nil {
			opts["bufsize"] = strconv.FormatInt(*bufferSize, 10)
		}
	case "crf":
		if quality != nil {
			opts["crf"] = strconv.Itoa(*quality)
		}
	case "cqp":
		if quality != nil {
			opts["qp"] = strconv.Itoa(*quality)
		}
	}

	if gop != nil {
		opts["g"] = strconv.Itoa(*gop)
	}
	if bframes != nil {
		opts["bf"] = strconv.Itoa(*bframes)
	}
	if preset != nil {
		opts["preset"] = *preset
	}

	return opts
}
