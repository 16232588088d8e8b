// Package sink persists enriched vacancy records.
//
// Every sink is provisioned once per run before any delivery. Provisioning
// is idempotent: provisioning a destination that already exists, or the same
// run twice, succeeds and yields the same Destination. Deliver is safe for
// concurrent use by fetch workers.
//
// Available sinks:
//   - FileSink writes one JSON document per line to a run-stamped file
//   - IndexSink posts documents to an Elasticsearch-compatible day index
//   - PostgresSink inserts documents into a day table (pgx)
//   - ObjectSink stores one object per document in a MinIO/S3 bucket
package sink
