// Package queue provides the unbounded job queue that decouples pipe
// ingestion from speech synthesis. Consumers block with a timeout so they
// can run idle housekeeping between jobs, and pending work can be drained
// in one call when an utterance is interrupted.
package queue
