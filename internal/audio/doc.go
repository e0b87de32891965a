// Package audio provides microphone capture via portaudio, 48 kHz to 16 kHz
// resampling, and 32-bit float WAV persistence. Capture accumulates mono
// float32 samples in a buffer consumed by the streaming session, the wake
// word detector, and the trainer.
package audio
