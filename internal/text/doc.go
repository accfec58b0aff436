// Package text normalizes raw input for speech synthesis.
// It strips markup and unspeakable characters, splits text into sentences
// and derives short filename slugs.
package text
