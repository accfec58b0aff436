// Package audio holds the audio chunk type that flows from synthesis to
// playback, the raw float32 PCM encoding the player consumes and the WAV
// store that persists each finished utterance.
package audio
