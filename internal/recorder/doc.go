// Package recorder persists the client's streams to PostgreSQL.
//
// A Recorder subscribes to the status, message and event streams of a
// connection.Client, batches one row per item and writes the batch with
// pgx.Batch when it reaches BatchSize or every FlushInterval. Rows are
// append-only. Stop reads everything already published to the streams,
// then writes the final batch.
package recorder
