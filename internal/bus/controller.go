package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/smazurov/mediabus/internal/bus/decode"
	"github.com/smazurov/mediabus/internal/bus/encode"
	"github.com/smazurov/mediabus/internal/bus/muxwriter"
	"github.com/smazurov/mediabus/internal/bus/pubsub"
	"github.com/smazurov/mediabus/internal/bus/registry"
	"github.com/smazurov/mediabus/internal/events"
	"github.com/smazurov/mediabus/internal/logging"
	"github.com/smazurov/mediabus/internal/process"
)

// Queue depth per bus subscriber. Packets are small (a reference plus a
// compressed payload) so a deep queue rides out consumer jitter without
// tripping the lag policy; decoded frames are enormous, so the frame
// queue is kept shallow and slow consumers lag instead of ballooning
// memory.
const (
	packetQueueDepth = 1024
	frameQueueDepth  = 16
)

// Controller is the bus's single entry point: it owns the one active
// input, the packet and frame buses it fans out on, the codec registry,
// and every attached output.
//
// Every consumer hangs off the broadcast buses: decoders and container
// copy pipelines subscribe to the packet bus, container transcode
// pipelines subscribe to the frame bus, and raw_frame/raw_packet
// outputs expose their subscription channel directly. The reader's
// goroutine only demuxes and publishes; a stalled output lags and
// resynchronizes on its own subscription without ever blocking the
// publisher or any other output.
type Controller struct {
	logger  logging.Logger
	events  *events.Bus
	pool    process.Pool
	reg     *registry.Registry
	metrics *metrics

	packets *pubsub.Bus[RawPacket]
	frames  *pubsub.Bus[Frame]

	mu                sync.RWMutex
	reader            *Reader
	streams           []ElementaryStream
	inputOpen         bool
	closing           bool // remove_input in progress; add_output must fail
	eosSignaled       bool
	inputErr          error
	startedAt         time.Time
	outputs           map[string]*outputEntry
	decoders          map[int]*decode.Decoder
	hardwareFallbacks map[string]string
}

// outputEntry tracks whichever kind of output was attached under an ID,
// plus the per-output telemetry status() reports.
type outputEntry struct {
	spec      OutputSpec
	container *containerOutput     // set for OutputKindContainerMux
	rawFrame  *muxwriter.RawFrame  // set for OutputKindRawFrame
	rawPacket *muxwriter.RawPacket // set for OutputKindRawPacket

	packetsWritten atomic.Uint64
	bytesWritten   atomic.Uint64
	lagged         atomic.Uint64 // container pipelines; raw outputs report via their subscription

	errMu       sync.Mutex
	lastError   string
	lastErrorAt time.Time
}

func (e *outputEntry) recordError(err error) {
	e.errMu.Lock()
	e.lastError = err.Error()
	e.lastErrorAt = time.Now()
	e.errMu.Unlock()
}

func (e *outputEntry) status() OutputStatus {
	s := OutputStatus{
		ID:             e.spec.ID,
		Kind:           e.spec.Kind,
		PacketsWritten: e.packetsWritten.Load(),
		BytesWritten:   e.bytesWritten.Load(),
	}

	switch {
	case e.container != nil:
		s.Lagged = e.lagged.Load()
	case e.rawFrame != nil:
		s.Lagged = e.rawFrame.Dropped()
	case e.rawPacket != nil:
		s.Lagged = e.rawPacket.Dropped()
	}

	e.errMu.Lock()
	s.LastError = e.lastError
	s.LastErrorAt = e.lastErrorAt
	e.errMu.Unlock()

	return s
}

// containerOutput holds one container-mux output: the shared muxer
// writer plus one pipeline task per selected stream, each running on
// its own bus subscription.
type containerOutput struct {
	writer    *muxwriter.Container
	mu        sync.Mutex // serializes writer access across per-stream pipeline tasks
	closed    bool       // set under mu once teardown has begun
	wg        sync.WaitGroup
	pipelines map[int]*streamPipeline
}

type streamPipeline struct {
	sourceIndex int
	outputIndex int
	copier      *encode.Copier  // set when not transcoding
	encoder     *encode.Encoder // set when transcoding
	unsub       func()          // detaches the pipeline task's bus subscription
}

// NewController builds an idle Controller. Call AddInput to attach a
// source before BeginInputReading or AddOutput can be used. metricsReg
// may be nil, in which case the bus's Prometheus series are registered
// against a private registry instead of being scraped.
func NewController(logger logging.Logger, evBus *events.Bus, metricsReg prometheus.Registerer) *Controller {
	if metricsReg == nil {
		metricsReg = prometheus.NewRegistry()
	}

	c := &Controller{
		logger:            logger,
		events:            evBus,
		reg:               registry.New(),
		metrics:           newMetrics(metricsReg),
		outputs:           make(map[string]*outputEntry),
		decoders:          make(map[int]*decode.Decoder),
		hardwareFallbacks: make(map[string]string),
	}

	c.packets = pubsub.New[RawPacket](c.onPacketLag)
	c.frames = pubsub.New[Frame](c.onFrameLag)

	c.pool = process.NewPool(&process.PoolOptions{
		WorkerProvider: c.provideWorker,
		OnStateChange:  c.onTaskStateChange,
		Logger:         logger,
	})

	return c
}

func (c *Controller) onPacketLag(id uuid.UUID, dropped uint64) {
	c.metrics.subscriberLag.WithLabelValues("packet").Inc()
	c.events.Publish(events.SubscriberLaggedEvent{Bus: "packet", StreamID: id.String(), Dropped: dropped, Timestamp: now()})
}

func (c *Controller) onFrameLag(id uuid.UUID, dropped uint64) {
	c.metrics.subscriberLag.WithLabelValues("frame").Inc()
	c.events.Publish(events.SubscriberLaggedEvent{Bus: "frame", StreamID: id.String(), Dropped: dropped, Timestamp: now()})
}

// onTaskStateChange watches the supervised input-reader task. When it
// reaches a terminal state, whether from end-of-source, a fatal read
// error, or remove_input's stop, end-of-stream is propagated to every
// bus subscriber.
func (c *Controller) onTaskStateChange(id string, oldState, newState process.State, err error) {
	if id != "input" {
		return
	}
	if newState != process.StateIdle && newState != process.StateError {
		return
	}
	if oldState != process.StateRunning && oldState != process.StateStopping {
		return
	}
	c.handleInputEOS(err)
}

// handleInputEOS closes the packet and frame buses so every subscriber
// observes end-of-stream after draining its residual queue. Idempotent;
// the first caller wins whether that is the reader's own exit or
// RemoveInput.
func (c *Controller) handleInputEOS(err error) {
	c.mu.Lock()
	if c.eosSignaled || !c.inputOpen {
		c.mu.Unlock()
		return
	}
	c.eosSignaled = true
	c.inputErr = err
	packets, frames := c.packets, c.frames
	closing := c.closing
	decoders := make([]*decode.Decoder, 0, len(c.decoders))
	for _, dec := range c.decoders {
		decoders = append(decoders, dec)
	}
	c.mu.Unlock()

	// Closing the packet bus ends every copy pipeline, raw-packet
	// output, and decoder subscription. The frame bus stays open until
	// each decoder has drained its codec and published its tail frames,
	// so downstream transcode pipelines and raw-frame outputs see every
	// flushed frame before their own end-of-stream.
	packets.Close()
	go func() {
		for _, dec := range decoders {
			<-dec.Done()
		}
		frames.Close()
	}()

	reason := "eof"
	switch {
	case closing:
		reason = "removed"
	case err != nil:
		reason = "error"
		c.logger.Error("input reader failed", "error", err)
	}
	c.events.Publish(events.InputClosedEvent{Reason: reason, Timestamp: now()})
}

// AddInput opens and probes the source described by cfg. It fails if an
// input is already attached; RemoveInput must be called first.
func (c *Controller) AddInput(cfg InputConfig) ([]ElementaryStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inputOpen {
		return nil, NewError(ErrAlreadyHasInput, "an input is already attached", nil)
	}

	// Fresh buses per input: the previous input's buses were closed to
	// signal EOS and a closed bus is not reusable.
	c.packets = pubsub.New[RawPacket](c.onPacketLag)
	c.frames = pubsub.New[Frame](c.onFrameLag)

	reader := NewReader(cfg, c.packets, c.logger)
	streams, err := reader.Open()
	if err != nil {
		return nil, err
	}

	c.reader = reader
	c.streams = streams
	c.inputOpen = true
	c.startedAt = time.Now()

	c.events.Publish(events.InputOpenedEvent{StreamCount: len(streams), Timestamp: now()})
	return streams, nil
}

// BeginInputReading starts the reader's packet pump as a supervised
// task. Idempotent once reading has begun.
func (c *Controller) BeginInputReading() error {
	c.mu.RLock()
	open := c.inputOpen
	c.mu.RUnlock()

	if !open {
		return NewError(ErrNoInput, "no input attached", nil)
	}
	if c.pool.IsRunning("input") {
		return nil
	}

	return c.pool.Start("input")
}

// AddOutput attaches a new output described by spec. Container-mux
// outputs get one pipeline task per selected stream, each on its own
// bus subscription; raw_frame/raw_packet outputs expose their
// subscription channel to the caller. ID uniqueness is enforced
// atomically with the spawn.
func (c *Controller) AddOutput(spec OutputSpec) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.inputOpen {
		return NewError(ErrNoInput, "no input attached", nil)
	}
	if c.closing || c.eosSignaled {
		return NewError(ErrInputClosing, "input is being removed", nil)
	}
	if spec.ID == "" {
		return NewError(ErrIncompatibleOutput, "output id is required", nil)
	}
	if _, exists := c.outputs[spec.ID]; exists {
		return NewError(ErrDuplicateID, fmt.Sprintf("output %s already exists", spec.ID), nil)
	}
	for _, sel := range spec.Streams {
		if c.streamByIndexLocked(sel.StreamIndex) == nil {
			return NewError(ErrIncompatibleOutput, fmt.Sprintf("output %s: stream %d not present on input", spec.ID, sel.StreamIndex), nil)
		}
	}

	entry := &outputEntry{spec: spec}

	switch spec.Kind {
	case OutputKindContainerMux:
		co, err := c.buildContainerOutput(spec)
		if err != nil {
			return err
		}
		entry.container = co
		c.startContainerPipelines(entry)
	case OutputKindRawFrame:
		rf, _ := muxwriter.NewRawFrame(spec.ID, c.frames, frameQueueDepth)
		entry.rawFrame = rf
	case OutputKindRawPacket:
		rp, _ := muxwriter.NewRawPacket(spec.ID, c.packets, packetQueueDepth, c.selectedStreamsLocked(spec.Streams))
		entry.rawPacket = rp
	default:
		return NewError(ErrIncompatibleOutput, fmt.Sprintf("unknown output kind %q", spec.Kind), nil)
	}

	c.outputs[spec.ID] = entry
	c.metrics.outputsActive.Set(float64(len(c.outputs)))
	c.events.Publish(events.OutputAddedEvent{OutputID: spec.ID, Kind: string(spec.Kind), Timestamp: now()})
	return nil
}

// buildContainerOutput opens the muxer, adds every selected stream, and
// builds each stream's copy or transcode pipeline. Must be called with
// c.mu held.
func (c *Controller) buildContainerOutput(spec OutputSpec) (*containerOutput, error) {
	writer, err := muxwriter.NewContainer(spec.Target, c.logger)
	if err != nil {
		return nil, err
	}

	co := &containerOutput{writer: writer, pipelines: make(map[int]*streamPipeline, len(spec.Streams))}

	for _, sel := range spec.Streams {
		src := c.streamByIndexLocked(sel.StreamIndex)

		outIndex, err := writer.AddStream(*src)
		if err != nil {
			writer.Close()
			return nil, err
		}

		p := &streamPipeline{sourceIndex: sel.StreamIndex, outputIndex: outIndex}

		if sel.Transcode && sel.Encode != nil {
			candidate, fallback, err := c.reg.SelectEncoder(src.CodecID, sel.Encode.PreferredEncoder)
			if err != nil {
				writer.Close()
				return nil, NewError(ErrEncoderInit, fmt.Sprintf("stream %d: selecting encoder", sel.StreamIndex), err)
			}
			if fallback {
				c.recordHardwareFallback(sel.Encode.PreferredEncoder, candidate.Name)
			}

			var enc *encode.Encoder
			if src.IsAudio() {
				enc, err = encode.NewAudio(candidate, *sel.Encode, src.TimeBase, src.TimeBase, src.SampleRate, src.ChannelLayout, src.SampleFormat, outIndex, c.logger)
			} else {
				enc, err = encode.NewVideo(candidate, *sel.Encode, *src, src.TimeBase, outIndex, c.logger)
			}
			if err != nil {
				writer.Close()
				return nil, err
			}
			if params := writer.StreamParameters(sel.StreamIndex); params != nil {
				if perr := enc.FillParameters(params); perr != nil {
					enc.Close()
					writer.Close()
					return nil, NewError(ErrEncoderInit, fmt.Sprintf("stream %d: applying encoder parameters", sel.StreamIndex), perr)
				}
			}
			p.encoder = enc

			dec := c.decoderFor(*src)
			if err := dec.Retain(c.reg); err != nil {
				enc.Close()
				writer.Close()
				return nil, err
			}
		} else {
			p.copier = encode.NewCopier(outIndex, src.TimeBase, src.TimeBase, src.IsVideo())
		}

		co.pipelines[sel.StreamIndex] = p
	}

	if err := writer.Open(context.Background(), nil); err != nil {
		return nil, err
	}

	return co, nil
}

// decoderFor returns the shared, refcounted decoder for a source
// stream, creating it on first use. Must be called with c.mu held.
func (c *Controller) decoderFor(src ElementaryStream) *decode.Decoder {
	if dec, ok := c.decoders[src.Index]; ok {
		return dec
	}
	dec := decode.New(src, c.packets, c.frames, c.logger)
	c.decoders[src.Index] = dec
	return dec
}

// startContainerPipelines subscribes each of a container output's
// pipelines to its bus and starts its task. Must be called with c.mu
// held so registration and spawn are atomic with respect to
// add_output/remove_output.
func (c *Controller) startContainerPipelines(entry *outputEntry) {
	co := entry.container
	for _, p := range co.pipelines {
		co.wg.Add(1)
		if p.copier != nil {
			packets := c.packets
			subID, in := packets.Subscribe(packetQueueDepth)
			p.unsub = func() { packets.Unsubscribe(subID) }
			go c.runCopyPipeline(entry, co, p, packets, subID, in)
		} else {
			frames := c.frames
			subID, in := frames.Subscribe(frameQueueDepth)
			p.unsub = func() { frames.Unsubscribe(subID) }
			go c.runEncodePipeline(entry, co, p, frames, subID, in)
		}
	}
}

// runCopyPipeline is the stream-copy task for one output stream: it
// consumes raw packets off the packet bus, gates on keyframes (at
// startup and again after every Lagged event), and remaps each accepted
// packet into the output's muxer. It exits when the packet bus closes,
// the subscription is detached, or the writer disconnects.
func (c *Controller) runCopyPipeline(entry *outputEntry, co *containerOutput, p *streamPipeline, packets *pubsub.Bus[RawPacket], subID uuid.UUID, in <-chan RawPacket) {
	defer co.wg.Done()

	var lastDropped uint64

	for rp := range in {
		if rp.StreamIndex != p.sourceIndex {
			continue
		}

		// A rising dropped count is this subscriber's Lagged{n}; re-arm
		// the keyframe gate so the muxed stream resumes decodable.
		if dropped := packets.Dropped(subID); dropped != lastDropped {
			entry.lagged.Add(dropped - lastDropped)
			lastDropped = dropped
			p.copier.Resync()
			c.logger.Warn("copy output lagged, waiting for keyframe", "output_id", entry.spec.ID, "dropped", dropped)
		}
		if !p.copier.Accept(rp.Keyframe) {
			continue
		}

		pkt, err := rp.ToAstiav()
		if err != nil {
			c.logger.Warn("skipping unmappable packet", "output_id", entry.spec.ID, "error", err)
			continue
		}
		p.copier.Remap(pkt)

		err = c.writeContainerPacket(entry, co, pkt)
		pkt.Free()
		if err != nil {
			return
		}
	}
}

// runEncodePipeline is the transcode task for one output stream: it
// consumes decoded frames off the frame bus, converts and encodes them,
// and muxes the resulting packets. It exits when the frame bus closes,
// the subscription is detached, or the writer disconnects.
func (c *Controller) runEncodePipeline(entry *outputEntry, co *containerOutput, p *streamPipeline, frames *pubsub.Bus[Frame], subID uuid.UUID, in <-chan Frame) {
	defer co.wg.Done()

	av := astiav.AllocFrame()
	defer av.Free()
	ctx := context.Background()
	var lastDropped uint64

	for fr := range in {
		if fr.StreamIndex != p.sourceIndex {
			continue
		}

		// Frame lag needs no resync: the encoder just picks up at the
		// next available frame. Still counted so status() reports it.
		if dropped := frames.Dropped(subID); dropped != lastDropped {
			entry.lagged.Add(dropped - lastDropped)
			lastDropped = dropped
			c.logger.Warn("transcode output lagged", "output_id", entry.spec.ID, "dropped", dropped)
		}
		if err := fr.FillAstiav(av); err != nil {
			c.logger.Warn("skipping unmappable frame", "output_id", entry.spec.ID, "error", err)
			continue
		}

		co.mu.Lock()
		if co.closed {
			co.mu.Unlock()
			continue
		}
		err := p.encoder.Encode(ctx, av, func(pkt *astiav.Packet) error {
			werr := co.writer.WritePacket(pkt)
			if werr == nil {
				entry.packetsWritten.Add(1)
				entry.bytesWritten.Add(uint64(pkt.Size()))
				c.metrics.packetsWritten.WithLabelValues(entry.spec.ID).Inc()
				c.metrics.bytesWritten.WithLabelValues(entry.spec.ID).Add(float64(pkt.Size()))
			}
			return werr
		})
		co.mu.Unlock()

		if err != nil {
			c.recordOutputError(entry.spec.ID, entry, err)
			if c.failOutputOnDisconnect(entry, err) {
				return
			}
			c.logger.Error("output encode failed", "output_id", entry.spec.ID, "error", err)
		}
	}
}

// writeContainerPacket writes one remapped packet under the output's
// writer lock, maintaining the per-output counters. A terminal writer
// error tears the output down and is returned so the pipeline task
// exits; recoverable errors drop the packet and return nil.
func (c *Controller) writeContainerPacket(entry *outputEntry, co *containerOutput, pkt *astiav.Packet) error {
	co.mu.Lock()
	if co.closed {
		co.mu.Unlock()
		return nil
	}
	err := co.writer.WritePacket(pkt)
	co.mu.Unlock()

	if err == nil {
		entry.packetsWritten.Add(1)
		entry.bytesWritten.Add(uint64(pkt.Size()))
		c.metrics.packetsWritten.WithLabelValues(entry.spec.ID).Inc()
		c.metrics.bytesWritten.WithLabelValues(entry.spec.ID).Add(float64(pkt.Size()))
		return nil
	}

	c.recordOutputError(entry.spec.ID, entry, err)
	if c.failOutputOnDisconnect(entry, err) {
		return err
	}
	c.logger.Error("output write failed", "output_id", entry.spec.ID, "error", err)
	return nil
}

// failOutputOnDisconnect tears the output down asynchronously when err
// is a terminal writer disconnect, reporting whether it did. The
// removal runs on its own goroutine because the caller is one of the
// output's pipeline tasks, and RemoveOutput waits for those to exit.
func (c *Controller) failOutputOnDisconnect(entry *outputEntry, err error) bool {
	var be *Error
	if !errors.As(err, &be) || be.Code != ErrWriterDisconnect {
		return false
	}
	c.logger.Error("output writer disconnected, removing output", "output_id", entry.spec.ID, "error", err)
	go func() {
		if rerr := c.RemoveOutput(entry.spec.ID); rerr != nil {
			c.logger.Warn("removing disconnected output", "output_id", entry.spec.ID, "error", rerr)
		}
	}()
	return true
}

// RemoveOutput detaches and stops a previously added output.
func (c *Controller) RemoveOutput(id string) error {
	c.mu.Lock()
	entry, exists := c.outputs[id]
	if exists {
		delete(c.outputs, id)
		c.metrics.outputsActive.Set(float64(len(c.outputs)))
	}
	c.mu.Unlock()

	if !exists {
		return NewError(ErrUnknownOutput, fmt.Sprintf("output %s not found", id), nil)
	}

	switch {
	case entry.container != nil:
		c.teardownContainerOutput(entry.container)
	case entry.rawFrame != nil:
		entry.rawFrame.Close()
	case entry.rawPacket != nil:
		entry.rawPacket.Close()
	}

	c.events.Publish(events.OutputRemovedEvent{OutputID: id, Timestamp: now()})
	return nil
}

// teardownContainerOutput cancels the output's pipeline tasks, waits
// for them to finish their in-flight unit, then flushes the encoders,
// writes the trailer, and releases the shared decoders. Only this
// output's subscriptions are touched; the buses and every other output
// stay untouched.
func (c *Controller) teardownContainerOutput(co *containerOutput) {
	co.mu.Lock()
	if co.closed {
		co.mu.Unlock()
		return
	}
	co.closed = true
	co.mu.Unlock()

	// Detaching a subscription closes the pipeline task's channel; each
	// task finishes the packet or frame it is processing and exits.
	for _, p := range co.pipelines {
		if p.unsub != nil {
			p.unsub()
		}
	}
	co.wg.Wait()

	var transcoded []int
	co.mu.Lock()
	for _, p := range co.pipelines {
		if p.encoder != nil {
			_ = p.encoder.Flush(context.Background(), co.writer.WritePacket)
			p.encoder.Close()
			transcoded = append(transcoded, p.sourceIndex)
		}
	}
	co.writer.Close()
	co.mu.Unlock()

	c.mu.Lock()
	decoders := make([]*decode.Decoder, 0, len(transcoded))
	for _, si := range transcoded {
		if dec, ok := c.decoders[si]; ok {
			decoders = append(decoders, dec)
		}
	}
	c.mu.Unlock()

	for _, dec := range decoders {
		dec.Release()
	}
}

// RemoveInput stops the reader, propagates end-of-stream to every bus
// subscriber, then drains every output, fanning the container output
// teardowns out concurrently with an errgroup since flushing an encoder
// and writing a trailer are independent I/O per output. The source is
// released last, once nothing can touch it anymore.
func (c *Controller) RemoveInput() error {
	c.mu.Lock()
	if !c.inputOpen {
		c.mu.Unlock()
		return NewError(ErrNoInput, "no input attached", nil)
	}
	c.closing = true
	ids := make([]string, 0, len(c.outputs))
	for id := range c.outputs {
		ids = append(ids, id)
	}
	reader := c.reader
	c.mu.Unlock()

	if err := c.pool.Stop("input"); err != nil {
		c.logger.Warn("error stopping input reader task", "error", err)
	}
	// No-op if the reader task's own exit already signaled EOS, and the
	// only path when reading was never begun.
	c.handleInputEOS(nil)

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error { return c.RemoveOutput(id) })
	}
	if err := g.Wait(); err != nil {
		c.logger.Warn("error stopping outputs during input removal", "error", err)
	}

	c.mu.Lock()
	c.reader = nil
	c.streams = nil
	c.inputOpen = false
	c.closing = false
	c.eosSignaled = false
	c.inputErr = nil
	c.decoders = make(map[int]*decode.Decoder)
	c.mu.Unlock()

	if reader != nil {
		reader.Close()
	}
	return nil
}

// ListOutputs returns the IDs of every currently attached output.
func (c *Controller) ListOutputs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.listOutputsLocked()
}

func (c *Controller) listOutputsLocked() []string {
	ids := make([]string, 0, len(c.outputs))
	for id := range c.outputs {
		ids = append(ids, id)
	}
	return ids
}

// Status returns a snapshot of the bus's current state.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	fallback := make(map[string]string, len(c.hardwareFallbacks))
	for k, v := range c.hardwareFallbacks {
		fallback[k] = v
	}

	var unknown uint64
	if c.reader != nil {
		unknown = c.reader.UnknownStreamPackets()
	}

	outputs := make([]OutputStatus, 0, len(c.outputs))
	for _, entry := range c.outputs {
		outputs = append(outputs, entry.status())
	}

	inputErr := ""
	if c.inputErr != nil {
		inputErr = c.inputErr.Error()
	}

	return Status{
		InputOpen:            c.inputOpen,
		InputError:           inputErr,
		Streams:              append([]ElementaryStream(nil), c.streams...),
		Outputs:              outputs,
		UnknownStreamPackets: unknown,
		HardwareFallback:     fallback,
		StartedAt:            c.startedAt,
	}
}

func (c *Controller) streamByIndexLocked(index int) *ElementaryStream {
	for i := range c.streams {
		if c.streams[i].Index == index {
			return &c.streams[i]
		}
	}
	return nil
}

// provideWorker is the pool's WorkerProvider. The only long-running
// blocking task the bus supervises through process.Pool is the input
// reader; every output consumes through a bus subscription on its own
// goroutine and needs no supervised task of its own.
func (c *Controller) provideWorker(id string) (process.Worker, error) {
	if id != "input" {
		return nil, fmt.Errorf("bus: unknown task id %q", id)
	}

	c.mu.RLock()
	reader := c.reader
	c.mu.RUnlock()
	if reader == nil {
		return nil, NewError(ErrNoInput, "reader not open", nil)
	}
	return reader.Worker, nil
}

// RawFrames returns the channel of decoded frames for a raw_frame
// output, for the in-process consumer the OutputSpec was created for
// (e.g. a motion detector). ok is false if id is not a raw_frame output.
func (c *Controller) RawFrames(id string) (<-chan Frame, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.outputs[id]
	if !exists || entry.rawFrame == nil {
		return nil, false
	}
	return entry.rawFrame.Channel(), true
}

// RawPackets returns the channel of bitstream-adapted packets for a
// raw_packet output. ok is false if id is not a raw_packet output.
func (c *Controller) RawPackets(id string) (<-chan RawPacket, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.outputs[id]
	if !exists || entry.rawPacket == nil {
		return nil, false
	}
	return entry.rawPacket.Channel(), true
}

// selectedStreamsLocked resolves each selector's stream index against
// the input's probed streams. Must be called with c.mu held.
func (c *Controller) selectedStreamsLocked(selectors []StreamSelector) []ElementaryStream {
	out := make([]ElementaryStream, 0, len(selectors))
	for _, sel := range selectors {
		if s := c.streamByIndexLocked(sel.StreamIndex); s != nil {
			out = append(out, *s)
		}
	}
	return out
}

func (c *Controller) recordOutputError(id string, entry *outputEntry, err error) {
	entry.recordError(err)
	c.metrics.outputErrors.WithLabelValues(id).Inc()
	c.events.Publish(events.OutputErrorEvent{OutputID: id, Error: err.Error(), Timestamp: now()})
}

func (c *Controller) recordHardwareFallback(requested, selected string) {
	c.hardwareFallbacks[requested] = selected
	c.events.Publish(events.HardwareFallbackEvent{Requested: requested, Selected: selected, Timestamp: now()})
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
