package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koompiai/kiri/internal/audio"
	"github.com/koompiai/kiri/internal/config"
	"github.com/koompiai/kiri/internal/metrics"
	"github.com/koompiai/kiri/internal/session"
	"github.com/koompiai/kiri/internal/transcription"
	"github.com/koompiai/kiri/internal/vad"
	"github.com/koompiai/kiri/internal/wakeword"
)

const (
	serviceName    = "kiri"
	serviceVersion = "1.0.0"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "listen":
		err = runListen(os.Args[2:])
	case "wake":
		err = runWake(os.Args[2:])
	case "train":
		err = runTrain(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [flags]

Commands:
  listen    Run one dictation session and print the transcript
  wake      Listen for the wake phrase, then dictate on each detection
  train     Record takes of a wake phrase and build an acoustic template

Run '%s <command> -h' for command flags.
`, serviceName, serviceName)
}

// loadConfig loads the config file when given, otherwise the defaults
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// commonFlags registers the flags every command shares
func commonFlags(fs *flag.FlagSet) (configPath, modelPath, fastModelPath, language *string) {
	configPath = fs.String("config", "", "Path to configuration file")
	modelPath = fs.String("model", "", "Override the accurate model path")
	fastModelPath = fs.String("fast-model", "", "Override the preview model path")
	language = fs.String("lang", "", "Override the transcription language")
	return
}

func applyOverrides(cfg *config.Config, modelPath, fastModelPath, language string) {
	if modelPath != "" {
		cfg.Whisper.ModelPath = modelPath
	}
	if fastModelPath != "" {
		cfg.Whisper.FastModelPath = fastModelPath
	}
	if language != "" {
		cfg.Whisper.Language = language
	}
}

// newCapture builds the microphone capture with its VAD gate
func newCapture(cfg *config.Config, logger *slog.Logger) (*audio.Capture, error) {
	gate, err := vad.NewGate(float32(cfg.VAD.SpeechThreshold), cfg.VAD.GetMinSpeechDuration())
	if err != nil {
		return nil, err
	}
	return audio.NewCapture(cfg.Audio.CaptureRate, cfg.Audio.Channels, gate, logger)
}

// newLoaders starts background loading of the accurate model and, when
// configured, the fast preview model
func newLoaders(cfg *config.Config, logger *slog.Logger) (fast, accurate *transcription.Loader) {
	accurate = transcription.NewLoader(cfg.Whisper.ModelPath, cfg.Whisper.Language,
		cfg.Whisper.Threads, logger)
	if cfg.Whisper.FastModelPath != "" {
		fast = transcription.NewLoader(cfg.Whisper.FastModelPath, cfg.Whisper.Language,
			cfg.Whisper.Threads, logger)
	}
	return fast, accurate
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		PollInterval:      cfg.Session.GetPollInterval(),
		DoneTimeout:       cfg.Session.GetDoneTimeout(),
		SegmentSilence:    cfg.Session.GetSegmentSilence(),
		MinSegment:        cfg.Session.GetMinSegment(),
		PartialInterval:   cfg.Session.GetPartialInterval(),
		FinalizeGrace:     cfg.Session.GetFinalizeGrace(),
		MaxDuration:       cfg.Audio.GetMaxDuration(),
		SpeechThreshold:   cfg.VAD.SpeechThreshold,
		MinSpeechDuration: cfg.VAD.GetMinSpeechDuration(),
		Language:          cfg.Whisper.Language,
	}
}

// startMetricsServer exposes the Prometheus endpoint when enabled. The
// returned shutdown func is a no-op when metrics are disabled.
func startMetricsServer(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) func() {
	if !cfg.Metrics.Enabled {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:    cfg.Metrics.Address,
		Handler: mux,
	}

	go func() {
		logger.Info("Metrics endpoint started", slog.String("address", cfg.Metrics.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics endpoint failed", slog.String("error", err.Error()))
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error stopping metrics endpoint", slog.String("error", err.Error()))
		}
	}
}

// printEvents renders the session event stream on stdout. Partial previews
// are marked so they are visually distinct from finalized text.
func printEvents(events <-chan session.Event) {
	for ev := range events {
		switch ev.Kind {
		case session.EventPartial:
			fmt.Printf("  ... %s\n", ev.Text)
		case session.EventText:
			fmt.Println(ev.Text)
		}
	}
}

func runListen(args []string) error {
	fs := flag.NewFlagSet("listen", flag.ExitOnError)
	configPath, modelPath, fastModelPath, language := commonFlags(fs)
	duration := fs.Duration("d", 0, "Record a fixed duration instead of streaming")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	applyOverrides(cfg, *modelPath, *fastModelPath, *language)

	logger := initLogger(cfg.Logging)
	logger.Info("Starting dictation",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("model", cfg.Whisper.ModelPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	capture, err := newCapture(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open microphone: %w", err)
	}
	defer capture.Close()

	fast, accurate := newLoaders(cfg, logger)
	defer accurate.Close()
	if fast != nil {
		defer fast.Close()
	}

	m := metrics.NewMetrics()
	stopMetrics := startMetricsServer(cfg, m, logger)
	defer stopMetrics()

	if *duration > 0 {
		return transcribeFixed(ctx, cfg, capture, accurate, *duration)
	}

	transcript, err := dictate(ctx, cfg, session.Mic{Capture: capture}, fast, accurate, m, logger)
	if err != nil {
		if errors.Is(err, session.ErrNoSpeech) {
			fmt.Fprintln(os.Stderr, "No speech detected")
			return nil
		}
		return err
	}

	fmt.Println(transcript)
	return nil
}

// transcribeFixed records exactly the given duration and decodes it in one
// pass with the accurate model
func transcribeFixed(ctx context.Context, cfg *config.Config, capture *audio.Capture,
	accurate *transcription.Loader, duration time.Duration) error {

	samples, err := capture.RecordFixed(ctx, duration)
	if err != nil {
		return err
	}
	if capture.SampleRate() == audio.CaptureRate {
		samples = audio.Resample48kTo16k(samples)
	}

	engine, err := accurate.Wait(ctx)
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}

	text, err := engine.Decode(transcription.Request{
		Samples:  samples,
		Language: cfg.Whisper.Language,
		Strategy: transcription.StrategyAccurate,
	})
	if err != nil {
		return err
	}

	if text == "" || transcription.IsHallucination(text) {
		fmt.Fprintln(os.Stderr, "No speech detected")
		return nil
	}

	fmt.Println(text)
	return nil
}

// sharedMic lets a dictation session reuse a capture stream that is
// already open, as when the wake word detector triggers it. Starting it
// only discards the audio that led up to the trigger.
type sharedMic struct {
	*audio.Capture
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func (m sharedMic) StartContinuous() (io.Closer, error) {
	m.ClearBuffer()
	return nopCloser{}, nil
}

// dictate runs one streaming session over the given microphone and returns
// its transcript. Events are printed as they arrive.
func dictate(ctx context.Context, cfg *config.Config, mic session.Microphone,
	fast, accurate *transcription.Loader, m *metrics.Metrics, logger *slog.Logger) (string, error) {

	var fastLoader session.DecoderLoader
	if fast != nil {
		fastLoader = session.Loader{Loader: fast}
	}

	sess, err := session.NewSession(sessionConfig(cfg), mic,
		fastLoader, session.Loader{Loader: accurate}, m, logger)
	if err != nil {
		return "", err
	}

	done := make(chan struct{})
	go func() {
		printEvents(sess.Events())
		close(done)
	}()

	transcript, err := sess.Run(ctx)
	<-done
	return transcript, err
}

func runWake(args []string) error {
	fs := flag.NewFlagSet("wake", flag.ExitOnError)
	configPath, modelPath, fastModelPath, language := commonFlags(fs)
	strategy := fs.String("strategy", "", "Override the matching strategy (lexical or template)")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	applyOverrides(cfg, *modelPath, *fastModelPath, *language)
	if *strategy != "" {
		cfg.WakeWord.Strategy = *strategy
		if err := cfg.WakeWord.Validate(); err != nil {
			return err
		}
	}

	logger := initLogger(cfg.Logging)
	logger.Info("Starting wake word listener",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("strategy", cfg.WakeWord.Strategy))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	capture, err := newCapture(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open microphone: %w", err)
	}
	defer capture.Close()

	fast, accurate := newLoaders(cfg, logger)
	defer accurate.Close()
	if fast != nil {
		defer fast.Close()
	}

	m := metrics.NewMetrics()
	stopMetrics := startMetricsServer(cfg, m, logger)
	defer stopMetrics()

	matcher, err := newMatcher(ctx, cfg, fast, accurate, logger)
	if err != nil {
		return err
	}

	onWake := func(phrase string) {
		fmt.Printf("Wake phrase detected: %s\n", phrase)
		transcript, err := dictate(ctx, cfg, sharedMic{Capture: capture}, fast, accurate, m, logger)
		switch {
		case errors.Is(err, session.ErrNoSpeech):
			fmt.Fprintln(os.Stderr, "No speech detected")
		case err != nil && !errors.Is(err, context.Canceled):
			logger.Error("Dictation failed", slog.String("error", err.Error()))
		default:
			fmt.Println(transcript)
		}
	}

	detectorConfig := wakeword.Config{
		Stride:      cfg.WakeWord.GetStride(),
		Cooldown:    cfg.WakeWord.GetCooldown(),
		MinWindow:   cfg.WakeWord.GetMinWindow(),
		EnergyFloor: cfg.WakeWord.EnergyFloor,
	}

	detector, err := wakeword.NewDetector(detectorConfig, session.Mic{Capture: capture},
		matcher, onWake, m, logger)
	if err != nil {
		return err
	}

	if err := detector.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	stats := detector.GetStats()
	logger.Info("Wake word listener stopped",
		slog.Uint64("windows", stats.Windows),
		slog.Uint64("skipped", stats.Skipped),
		slog.Uint64("detections", stats.Detections))

	return nil
}

// newMatcher builds the configured wake word matcher. The lexical strategy
// needs a loaded model, so it blocks until one is ready; the preview model
// is preferred because wake windows are short.
func newMatcher(ctx context.Context, cfg *config.Config,
	fast, accurate *transcription.Loader, logger *slog.Logger) (wakeword.Matcher, error) {

	switch cfg.WakeWord.Strategy {
	case "template":
		templates, err := wakeword.LoadTemplates(cfg.WakeWord.TemplatesDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load wake word templates: %w", err)
		}
		return wakeword.NewTemplateMatcher(templates, logger)

	case "lexical":
		loader := accurate
		if fast != nil {
			loader = fast
		}
		engine, err := loader.Wait(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load wake word model: %w", err)
		}
		return wakeword.NewLexicalMatcher(cfg.WakeWord.Phrases, cfg.WakeWord.MatchDistance,
			engine, cfg.Whisper.Language, logger)

	default:
		return nil, fmt.Errorf("unknown wake word strategy %q", cfg.WakeWord.Strategy)
	}
}

func runTrain(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	phrase := fs.String("phrase", "", "Wake phrase to train (required)")
	takes := fs.Int("takes", 0, "Override the number of prompted takes")
	fs.Parse(args)

	if *phrase == "" {
		fs.Usage()
		return fmt.Errorf("-phrase is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *takes > 0 {
		cfg.WakeWord.TrainingTakes = *takes
	}

	logger := initLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	capture, err := newCapture(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open microphone: %w", err)
	}
	defer capture.Close()

	trainerConfig := wakeword.TrainerConfig{
		Takes:        cfg.WakeWord.TrainingTakes,
		TemplatesDir: cfg.WakeWord.TemplatesDir,
		SilenceAfter: cfg.VAD.GetSilenceDuration(),
		MaxTake:      cfg.Audio.GetMaxDuration(),
		TrimThresh:   float32(cfg.VAD.TrimThreshold),
		MinTakeAudio: cfg.VAD.GetMinSpeechDuration(),
		Threshold:    wakeword.DefaultThreshold,
	}

	trainer, err := wakeword.NewTrainer(trainerConfig, capture, logger)
	if err != nil {
		return err
	}
	trainer.Prompt = func(take, total int) {
		fmt.Printf("Take %d of %d: say %q, then pause.\n", take, total, *phrase)
	}

	templatePath, err := trainer.Train(ctx, *phrase)
	if err != nil {
		return err
	}

	fmt.Printf("Template written to %s\n", templatePath)
	return nil
}

// initLogger creates the structured logger from configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr", "":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
