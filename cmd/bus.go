package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	internalbus "github.com/smazurov/mediabus/internal/bus"
	"github.com/smazurov/mediabus/internal/events"
	"github.com/smazurov/mediabus/internal/logging"
)

// busRunOptions collects the flags for "bus run". Defaults reproduce
// testable-property scenario 1: a lavfi test pattern muxed to an mp4 file.
type busRunOptions struct {
	inputURL     string
	inputFormat  string
	inputOptions map[string]string
	outputTarget string
	copyStreams  bool
	preset       string
	bitrate      int64
	duration     time.Duration
}

// NewBusCmd builds the "bus" subcommand, which drives
// internal/bus.Controller directly from the CLI without any control
// plane in front of it. Useful for smoke-testing an input/output pair
// and for reproducing codec selection problems in isolation.
func NewBusCmd(eventBus *events.Bus) *cobra.Command {
	opts := &busRunOptions{
		inputURL:     "testsrc=size=320x240:rate=10",
		inputFormat:  "lavfi",
		outputTarget: "/tmp/mediabus-out.mp4",
		preset:       "ultrafast",
		bitrate:      500_000,
		duration:     3 * time.Second,
	}

	busCmd := &cobra.Command{
		Use:   "bus",
		Short: "Exercise the media bus directly from the CLI",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Attach one input, one output, and run for a fixed duration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBusScenario(eventBus, opts)
		},
	}

	runCmd.Flags().StringVar(&opts.inputURL, "input", opts.inputURL, "Input URL or lavfi filter graph")
	runCmd.Flags().StringVar(&opts.inputFormat, "input-format", opts.inputFormat, "Force a demuxer (e.g. lavfi, v4l2, rtsp)")
	runCmd.Flags().StringVar(&opts.outputTarget, "output", opts.outputTarget, "Output file path or URL")
	runCmd.Flags().BoolVar(&opts.copyStreams, "copy", opts.copyStreams, "Stream-copy instead of transcoding")
	runCmd.Flags().StringVar(&opts.preset, "preset", opts.preset, "Encoder preset, ignored with --copy")
	runCmd.Flags().Int64Var(&opts.bitrate, "bitrate", opts.bitrate, "Target bitrate in bits/sec, ignored with --copy")
	runCmd.Flags().DurationVar(&opts.duration, "duration", opts.duration, "How long to read before removing the input")

	busCmd.AddCommand(runCmd)
	return busCmd
}

func runBusScenario(eventBus *events.Bus, opts *busRunOptions) error {
	logger := logging.GetLogger("bus")

	lagCh := make(chan any, 16)
	unsubLag := events.SubscribeToChannel[events.SubscriberLaggedEvent](eventBus, lagCh)
	defer unsubLag()
	fallbackCh := make(chan any, 16)
	unsubFallback := events.SubscribeToChannel[events.HardwareFallbackEvent](eventBus, fallbackCh)
	defer unsubFallback()

	stopLogging := make(chan struct{})
	defer close(stopLogging)
	go logBusEvents(logger, lagCh, fallbackCh, stopLogging)

	controller := internalbus.NewController(logger, eventBus, nil)

	streams, err := controller.AddInput(internalbus.InputConfig{
		URL:     opts.inputURL,
		Format:  opts.inputFormat,
		Options: opts.inputOptions,
	})
	if err != nil {
		return fmt.Errorf("add_input: %w", err)
	}
	logger.Info("input opened", "streams", len(streams))

	selectors := make([]internalbus.StreamSelector, 0, len(streams))
	for _, s := range streams {
		sel := internalbus.StreamSelector{StreamIndex: s.Index}
		if !opts.copyStreams && s.IsVideo() {
			preset := opts.preset
			bitrate := opts.bitrate
			sel.Transcode = true
			sel.Encode = &internalbus.EncodeOpts{
				Mode:          internalbus.RateControlVBR,
				TargetBitrate: &bitrate,
				Preset:        &preset,
			}
		}
		selectors = append(selectors, sel)
	}

	if err := controller.AddOutput(internalbus.OutputSpec{
		ID:      "f",
		Kind:    internalbus.OutputKindContainerMux,
		Target:  opts.outputTarget,
		Streams: selectors,
	}); err != nil {
		return fmt.Errorf("add_output: %w", err)
	}
	logger.Info("output added", "id", "f", "target", opts.outputTarget)

	if err := controller.BeginInputReading(); err != nil {
		return fmt.Errorf("begin_input_reading: %w", err)
	}

	time.Sleep(opts.duration)

	if err := controller.RemoveInput(); err != nil {
		return fmt.Errorf("remove_input: %w", err)
	}

	status := controller.Status()
	logger.Info("bus run complete",
		"unknown_stream_packets", status.UnknownStreamPackets,
		"hardware_fallback", status.HardwareFallback,
	)
	fmt.Printf("wrote %s\n", opts.outputTarget)
	return nil
}

// logBusEvents drains channel-bridged event subscriptions and logs them,
// the select-loop shape events.SubscribeToChannel exists for.
func logBusEvents(logger logging.Logger, lagCh, fallbackCh <-chan any, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case v := <-lagCh:
			e := v.(events.SubscriberLaggedEvent)
			logger.Warn("subscriber lagged", "bus", e.Bus, "stream_id", e.StreamID, "dropped", e.Dropped)
		case v := <-fallbackCh:
			e := v.(events.HardwareFallbackEvent)
			logger.Warn("hardware encoder fallback", "requested", e.Requested, "selected", e.Selected)
		}
	}
}
