// Package transcription wraps the whisper.cpp Go bindings. It provides a
// decode engine with fast, accurate, and prompt-biased strategies, audio
// preprocessing (peak normalization and silence trimming), a background
// model loader, and a hallucination filter for silence artifacts.
package transcription
