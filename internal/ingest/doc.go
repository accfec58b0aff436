// Package ingest receives text over a named pipe. The daemon side keeps
// the pipe open for reading and turns each burst of writes into a Job;
// the client side waits for the daemon to be ready and writes messages.
package ingest
