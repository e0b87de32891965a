package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/koompiai/kiri/internal/audio"
	"github.com/koompiai/kiri/internal/metrics"
	"github.com/koompiai/kiri/internal/transcription"
	"github.com/koompiai/kiri/internal/vad"
)

// ErrNoSpeech indicates a session ended without any usable speech
var ErrNoSpeech = errors.New("no speech detected")

// Microphone is the audio source a session reads from. It is satisfied by
// Mic (wrapping audio.Capture) and by fakes in tests.
type Microphone interface {
	StartContinuous() (io.Closer, error)
	Snapshot() []float32
	ClearBuffer()
	Level() float64
	BufferedDuration() time.Duration
	SampleRate() int
}

// Mic adapts audio.Capture to the Microphone interface
type Mic struct {
	*audio.Capture
}

// StartContinuous starts the underlying capture stream
func (m Mic) StartContinuous() (io.Closer, error) {
	return m.Capture.StartContinuous()
}

// Decoder transcribes audio. Satisfied by *transcription.Engine.
type Decoder interface {
	Decode(req transcription.Request) (string, error)
}

// DecoderLoader provides a Decoder that may still be loading
type DecoderLoader interface {
	Decoder() (Decoder, error)
	Wait(ctx context.Context) (Decoder, error)
}

// Loader adapts transcription.Loader to the DecoderLoader interface
type Loader struct {
	*transcription.Loader
}

// Decoder returns the engine once loaded
func (l Loader) Decoder() (Decoder, error) {
	engine, err := l.Loader.Engine()
	if err != nil {
		return nil, err
	}
	return engine, nil
}

// Wait blocks until the engine is loaded or the context expires
func (l Loader) Wait(ctx context.Context) (Decoder, error) {
	engine, err := l.Loader.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return engine, nil
}

// Config contains streaming session parameters
type Config struct {
	PollInterval    time.Duration // orchestrator tick
	DoneTimeout     time.Duration // silence that ends the session
	SegmentSilence  time.Duration // silence that closes a segment
	MinSegment      time.Duration // shortest segment worth transcribing
	PartialInterval time.Duration // minimum gap between partial decodes
	FinalizeGrace   time.Duration // how long finalization waits for the accurate model
	MaxDuration     time.Duration // hard session cap

	SpeechThreshold   float64       // level above this counts as speech
	MinSpeechDuration time.Duration // dwell before speech is confirmed

	Language string
}

// Validate checks session parameters
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", c.PollInterval)
	}

	if c.SegmentSilence <= 0 {
		return fmt.Errorf("segment silence must be positive, got %v", c.SegmentSilence)
	}

	if c.DoneTimeout < c.SegmentSilence {
		return fmt.Errorf("done timeout (%v) must not be shorter than segment silence (%v)",
			c.DoneTimeout, c.SegmentSilence)
	}

	if c.MinSegment <= 0 {
		return fmt.Errorf("minimum segment must be positive, got %v", c.MinSegment)
	}

	if c.PartialInterval <= 0 {
		return fmt.Errorf("partial interval must be positive, got %v", c.PartialInterval)
	}

	if c.MaxDuration <= 0 {
		return fmt.Errorf("maximum duration must be positive, got %v", c.MaxDuration)
	}

	if c.SpeechThreshold <= 0 || c.SpeechThreshold > 1 {
		return fmt.Errorf("speech threshold must be between 0 and 1, got %f", c.SpeechThreshold)
	}

	return nil
}

// Session orchestrates one streaming dictation: it listens on the
// microphone, cuts the audio into segments on silence boundaries, emits
// live partial previews, and finalizes segments with the accurate model.
// A Session runs once; create a new one for the next dictation.
type Session struct {
	id       string
	config   Config
	mic      Microphone
	fast     DecoderLoader // optional preview model, may be nil
	accurate DecoderLoader
	metrics  *metrics.Metrics
	logger   *slog.Logger

	events  chan Event
	preview Decoder

	transcript  []string
	segments    int
	partials    int
	lastPartial time.Time
	lastPreview string
}

// NewSession creates a streaming session. fast may be nil when no preview
// model is configured; accurate is required.
func NewSession(config Config, mic Microphone, fast, accurate DecoderLoader, m *metrics.Metrics, logger *slog.Logger) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	if mic == nil {
		return nil, fmt.Errorf("microphone cannot be nil")
	}

	if accurate == nil {
		return nil, fmt.Errorf("accurate model loader cannot be nil")
	}

	if m == nil {
		return nil, fmt.Errorf("metrics cannot be nil")
	}

	id := uuid.New().String()
	return &Session{
		id:       id,
		config:   config,
		mic:      mic,
		fast:     fast,
		accurate: accurate,
		metrics:  m,
		logger:   logger.With(slog.String("session_id", id)),
		events:   make(chan Event, 64),
	}, nil
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Events returns the session's event stream. The channel is closed after
// EventDone. Events are dropped rather than blocking the session when the
// consumer falls behind.
func (s *Session) Events() <-chan Event {
	return s.events
}

// emit sends an event without blocking the orchestrator
func (s *Session) emit(ev Event) {
	ev.Time = time.Now()
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("Event dropped, consumer too slow",
			slog.String("kind", ev.Kind.String()))
	}
}

// setState emits a state transition event
func (s *Session) setState(state State) {
	s.logger.Debug("State transition", slog.String("state", state.String()))
	s.emit(Event{Kind: EventState, State: state})
}

// Run executes the session until silence ends it, the maximum duration is
// reached, or the context is cancelled. It returns the final transcript.
// ErrNoSpeech is returned when nothing usable was heard.
func (s *Session) Run(ctx context.Context) (string, error) {
	defer close(s.events)

	start := time.Now()
	s.setState(StateLoading)

	if err := s.acquirePreview(ctx); err != nil {
		return s.fail(start, err)
	}

	stream, err := s.mic.StartContinuous()
	if err != nil {
		return s.fail(start, fmt.Errorf("failed to start capture: %w", err))
	}
	defer stream.Close()

	s.metrics.RecordSessionStarted()
	s.setState(StateListening)

	tracker, err := vad.NewTracker(s.config.SpeechThreshold, s.config.MinSpeechDuration, time.Now())
	if err != nil {
		return s.fail(start, err)
	}

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Session cancelled")
			return s.finish(ctx, start, tracker)

		case <-ticker.C:
		}

		now := time.Now()
		level := s.mic.Level()
		tracker.Observe(level, now)
		s.metrics.SetAudioLevel(level)

		silence := tracker.SilenceFor(now)
		buffered := s.mic.BufferedDuration()

		if now.Sub(start) >= s.config.MaxDuration {
			s.logger.Warn("Session reached maximum duration",
				slog.Duration("max_duration", s.config.MaxDuration))
			return s.finish(ctx, start, tracker)
		}

		if tracker.SpeechConfirmed() {
			if silence >= s.config.SegmentSilence && buffered >= s.config.MinSegment {
				s.finalizeSegment(ctx, tracker)
				continue
			}

			if silence < s.config.SegmentSilence {
				s.maybeEmitPartial(now, buffered)
			}
			continue
		}

		// No pending speech: a long enough quiet stretch ends the session.
		if silence >= s.config.DoneTimeout {
			s.logger.Info("Session done, silence timeout",
				slog.Duration("silence", silence))
			return s.finish(ctx, start, tracker)
		}
	}
}

// acquirePreview waits for a decoder to gate listening on. The fast model
// gates when configured; a failed fast load falls back to the accurate
// model so the session still works, just without low-latency previews.
func (s *Session) acquirePreview(ctx context.Context) error {
	if s.fast != nil {
		decoder, err := s.fast.Wait(ctx)
		if err == nil {
			s.preview = decoder
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		s.logger.Warn("Preview model failed to load, falling back to accurate model",
			slog.String("error", err.Error()))
	}

	decoder, err := s.accurate.Wait(ctx)
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}
	s.preview = decoder
	return nil
}

// toModelRate converts captured samples to the model rate when needed
func (s *Session) toModelRate(samples []float32) []float32 {
	if s.mic.SampleRate() == audio.CaptureRate {
		return audio.Resample48kTo16k(samples)
	}
	return samples
}

// maybeEmitPartial runs a preview decode over the pending segment when
// enough new audio accumulated and the partial interval elapsed. Partials
// never consume the buffer.
func (s *Session) maybeEmitPartial(now time.Time, buffered time.Duration) {
	if buffered < s.config.MinSegment {
		return
	}

	if !s.lastPartial.IsZero() && now.Sub(s.lastPartial) < s.config.PartialInterval {
		return
	}
	s.lastPartial = now

	samples := s.toModelRate(s.mic.Snapshot())

	decodeStart := time.Now()
	text, err := s.preview.Decode(transcription.Request{
		Samples:  samples,
		Language: s.config.Language,
		Strategy: transcription.StrategyFast,
	})
	if err != nil {
		// Preview failures are not fatal; the segment gets finalized later.
		s.metrics.RecordDecodeFailure(transcription.StrategyFast.String())
		s.logger.Warn("Partial decode failed", slog.String("error", err.Error()))
		return
	}
	s.metrics.RecordDecode(transcription.StrategyFast.String(), time.Since(decodeStart).Seconds())

	if text == "" || text == s.lastPreview || transcription.IsHallucination(text) {
		return
	}
	s.lastPreview = text
	s.partials++

	s.metrics.RecordPartialEmitted()
	s.emit(Event{Kind: EventPartial, Text: text, Segment: s.segments})
}

// finalizeSegment consumes the buffered audio, decodes it with the best
// available model, and appends the text to the transcript. Hallucinated
// segments are dropped silently. A failed decode drops the segment and
// keeps the session alive.
func (s *Session) finalizeSegment(ctx context.Context, tracker *vad.Tracker) {
	samples := s.mic.Snapshot()
	s.mic.ClearBuffer()
	tracker.Reset()
	s.lastPartial = time.Time{}
	s.lastPreview = ""

	s.setState(StateTranscribing)

	samples = s.toModelRate(samples)
	audioSec := float64(len(samples)) / float64(audio.ModelRate)

	decoder, strategy := s.finalDecoder(ctx)

	decodeStart := time.Now()
	text, err := decoder.Decode(transcription.Request{
		Samples:  samples,
		Language: s.config.Language,
		Strategy: strategy,
	})
	if err != nil {
		s.metrics.RecordDecodeFailure(strategy.String())
		s.logger.Warn("Segment decode failed, segment dropped",
			slog.String("strategy", strategy.String()),
			slog.String("error", err.Error()))
		s.setState(StateListening)
		return
	}
	s.metrics.RecordDecode(strategy.String(), time.Since(decodeStart).Seconds())

	switch {
	case text == "":
		s.logger.Debug("Segment empty after decode")
	case transcription.IsHallucination(text):
		s.metrics.RecordHallucinationDropped()
		s.logger.Info("Segment dropped as hallucination", slog.String("text", text))
	default:
		s.transcript = append(s.transcript, text)
		s.segments++
		s.metrics.RecordSegmentFinalized(audioSec)
		s.emit(Event{Kind: EventText, Text: text, Segment: s.segments})
		s.logger.Info("Segment finalized",
			slog.Int("segment", s.segments),
			slog.Float64("audio_sec", audioSec),
			slog.Int("text_len", len(text)))
	}

	s.setState(StateListening)
}

// finalDecoder picks the decoder for a finalized segment. It waits up to
// the finalize grace for the accurate model, then falls back to the
// preview decoder with greedy decoding.
func (s *Session) finalDecoder(ctx context.Context) (Decoder, transcription.Strategy) {
	waitCtx, cancel := context.WithTimeout(ctx, s.config.FinalizeGrace)
	defer cancel()

	decoder, err := s.accurate.Wait(waitCtx)
	if err == nil {
		return decoder, transcription.StrategyAccurate
	}

	s.logger.Warn("Accurate model unavailable, finalizing with preview model",
		slog.String("error", err.Error()))
	return s.preview, transcription.StrategyFast
}

// finish finalizes any pending speech and emits the session result
func (s *Session) finish(ctx context.Context, start time.Time, tracker *vad.Tracker) (string, error) {
	if tracker.SpeechConfirmed() && s.mic.BufferedDuration() >= s.config.MinSegment {
		s.finalizeSegment(ctx, tracker)
	}

	duration := time.Since(start).Seconds()

	if len(s.transcript) == 0 {
		s.metrics.RecordSessionEnded("empty", duration)
		s.setState(StateError)
		s.emit(Event{Kind: EventError, Err: ErrNoSpeech})
		s.emit(Event{Kind: EventDone})
		return "", ErrNoSpeech
	}

	text := strings.Join(s.transcript, " ")
	s.metrics.RecordSessionEnded("result", duration)
	s.setState(StateResult)
	s.emit(Event{Kind: EventResult, Text: text})
	s.emit(Event{Kind: EventDone})

	s.logger.Info("Session finished",
		slog.Int("segments", s.segments),
		slog.Int("partials", s.partials),
		slog.Float64("duration_sec", duration))

	return text, nil
}

// fail records a fatal error and emits the terminal events
func (s *Session) fail(start time.Time, err error) (string, error) {
	s.metrics.RecordSessionEnded("error", time.Since(start).Seconds())
	s.setState(StateError)
	s.emit(Event{Kind: EventError, Err: err})
	s.emit(Event{Kind: EventDone})
	s.logger.Error("Session failed", slog.String("error", err.Error()))
	return "", err
}
