// Package fetch retrieves vacancy documents with a bounded worker pool.
//
// Exactly Options.Workers goroutines pull references from one shared queue
// and each owns at most one request at a time, so the worker count is a hard
// upper bound on connections opened against the upstream API.
//
// Example usage:
//
//	pool := fetch.NewPool(apiClient, fetch.DefaultOptions())
//	stats := pool.Run(ctx, refs, func(ctx context.Context, r fetch.Result) {
//		if r.Err != nil {
//			return
//		}
//		// enrich and deliver r.Document
//	})
//
// The pool:
//   - Never stops on a failed reference; every reference gets one attempt
//   - Runs the handler in the worker that fetched, right after the fetch
//   - Stops taking new references when ctx is cancelled and lets taken ones finish
//   - Reports progress from a single observer goroutine
package fetch
