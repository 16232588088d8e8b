// Package pipeline sequences one ingestion run and repeats it in daemon mode.
//
// A run walks every catalog facet, merges the discovered references, asks
// the sink for the run's destination and then fetches, enriches and delivers
// each reference with a bounded worker pool:
//
//	Idle -> Discovering -> Deduplicating -> Provisioning -> Ingesting -> Complete
//
// Any stage may end in Failed. Failures of single facets, fetches or
// deliveries are counted in the Summary and never fail the run; a sink that
// cannot be provisioned does.
package pipeline
