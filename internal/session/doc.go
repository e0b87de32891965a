// Package session orchestrates streaming dictation: it reads the
// microphone on a fixed poll tick, cuts speech into segments on silence
// boundaries, emits live partial previews with the fast model, and
// finalizes segments with the accurate model. Consumers follow progress
// through the session's event stream.
package session
