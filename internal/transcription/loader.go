package transcription

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrModelLoading indicates the model has not finished loading yet
var ErrModelLoading = errors.New("model still loading")

// Loader loads a whisper model in the background. Model loads take seconds
// for large GGML files, so the streaming session starts listening while the
// accurate model is still coming up and only blocks at finalization.
type Loader struct {
	modelPath string

	engine *Engine
	err    error
	done   chan struct{}
	once   sync.Once
}

// NewLoader starts loading the model in a goroutine and returns immediately
func NewLoader(modelPath, language string, threads int, logger *slog.Logger) *Loader {
	l := &Loader{
		modelPath: modelPath,
		done:      make(chan struct{}),
	}

	go func() {
		defer close(l.done)

		engine, err := NewEngine(modelPath, language, threads, logger)
		if err != nil {
			logger.Error("Model load failed",
				slog.String("path", modelPath),
				slog.String("error", err.Error()))
			l.err = err
			return
		}
		l.engine = engine
	}()

	return l
}

// Ready reports whether the load has finished, successfully or not
func (l *Loader) Ready() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Engine returns the loaded engine. Before the load finishes it returns
// ErrModelLoading; after a failed load it returns the load error.
func (l *Loader) Engine() (*Engine, error) {
	select {
	case <-l.done:
		return l.engine, l.err
	default:
		return nil, ErrModelLoading
	}
}

// Wait blocks until the load finishes or the context expires
func (l *Loader) Wait(ctx context.Context) (*Engine, error) {
	select {
	case <-l.done:
		return l.engine, l.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close releases the engine if the load succeeded
func (l *Loader) Close() error {
	l.once.Do(func() {
		<-l.done
		if l.engine != nil {
			l.err = l.engine.Close()
			l.engine = nil
		}
	})
	return nil
}
