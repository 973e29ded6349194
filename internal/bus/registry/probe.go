package registry

import (
	"bufio"
	"context"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// probeConcurrency bounds how many "ffmpeg -encoders"/"-decoders"
// subprocesses run at once. There are only ever two calls (encoders and
// decoders) in the one-shot probe, but the semaphore keeps the ceiling
// explicit rather than relying on there always being exactly two.
var probeConcurrency = semaphore.NewWeighted(2)

// compiledSet records which encoder/decoder names the local FFmpeg/libav
// build actually supports. It is probed once per process, the same way
// the hardware validators used to shell out to "ffmpeg -encoders" before
// trusting a candidate.
type compiledSet struct {
	once     sync.Once
	encoders map[string]bool
	decoders map[string]bool
	probeErr error
}

var shared compiledSet

// codecLineRe matches a line of "ffmpeg -hide_banner -encoders" or
// "-decoders" output, e.g. " V..... h264_vaapi           H.264/AVC (VAAPI) (codec h264)".
var codecLineRe = regexp.MustCompile(`^\s*[VAS\.][F\.][S\.][X\.][B\.][D\.]\s+(\S+)\s`)

func probeNames(listFlag string) map[string]bool {
	names := make(map[string]bool)

	if err := probeConcurrency.Acquire(context.Background(), 1); err != nil {
		return names
	}
	defer probeConcurrency.Release(1)

	cmd := exec.Command("ffmpeg", "-hide_banner", "-nostats", listFlag)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return names
	}
	if startErr := cmd.Start(); startErr != nil {
		return names
	}

	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		line := scanner.Text()
		if m := codecLineRe.FindStringSubmatch(line); m != nil {
			names[m[1]] = true
		}
	}
	_ = cmd.Wait()

	return names
}

// probe runs the one-shot capability scan. Safe to call repeatedly; only
// the first call does any work.
func probe() *compiledSet {
	shared.once.Do(func() {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); shared.encoders = probeNames("-encoders") }()
		go func() { defer wg.Done(); shared.decoders = probeNames("-decoders") }()
		wg.Wait()

		if len(shared.encoders) == 0 && len(shared.decoders) == 0 {
			shared.probeErr = errNoFFmpeg
		}
	})
	return &shared
}

var errNoFFmpeg = &probeError{"ffmpeg binary not found or produced no encoder/decoder listing"}

type probeError struct{ msg string }

func (e *probeError) Error() string { return e.msg }

// isEncoderCompiled reports whether name appears in "ffmpeg -encoders".
func isEncoderCompiled(name string) bool {
	return probe().encoders[name]
}

// isDecoderCompiled reports whether name appears in "ffmpeg -decoders".
func isDecoderCompiled(name string) bool {
	return probe().decoders[name]
}

// CompiledEncoderNames returns every probed encoder name containing sub
// (case-insensitive), useful for diagnostics/status reporting.
func CompiledEncoderNames(sub string) []string {
	p := probe()
	sub = strings.ToLower(sub)
	var out []string
	for name := range p.encoders {
		if sub == "" || strings.Contains(strings.ToLower(name), sub) {
			out = append(out, name)
		}
	}
	return out
}
