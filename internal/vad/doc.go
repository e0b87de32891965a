// Package vad provides energy-based voice activity detection. It implements
// a per-frame speech/silence state machine for bounded recordings, a coarse
// level tracker for poll-driven segmentation, and silence trimming helpers.
package vad
