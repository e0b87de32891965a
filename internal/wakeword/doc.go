// Package wakeword implements always-on wake phrase detection and training.
// The detector analyzes continuous capture in strides, gating quiet windows
// on RMS energy, and supports two matching strategies: lexical (transcribe
// with a phrase-biased prompt, then fuzzy-match the text) and template
// (compare band-energy trajectories against trained acoustic templates).
// The trainer records prompted takes and builds template files.
package wakeword
