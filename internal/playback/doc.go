// Package playback owns the audio player. A Manager keeps at most one
// player process alive, ties it to the stream session whose audio it is
// playing, and raises the daemon halt flag when the player goes away
// underneath it.
package playback
