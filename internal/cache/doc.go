// Package cache provides a persistent disk cache for synthesized sentence
// audio. Entries are zstd-compressed, addressed by a hash of the synthesis
// request and evicted least-recently-used first once the cache outgrows its
// capacity.
package cache
