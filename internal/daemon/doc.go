// Package daemon wires ingestion, synthesis and playback together. The
// dispatch loop takes one Job at a time, splits it into sentences, and
// streams each synthesized sentence to the player while the next one is
// being generated.
package daemon
