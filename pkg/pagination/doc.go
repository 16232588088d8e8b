// Package pagination walks the paginated vacancy listing of each facet and
// collects the detail references it reports.
//
// The listing reports the total page count with every response, so pages of
// one facet are requested strictly in order: page N+1 is requested only after
// page N has been read and its count says more pages follow. Facets are
// independent and may be walked with bounded parallelism.
//
// Example usage:
//
//	p := pagination.NewPaginator(apiClient, pagination.DefaultConfig())
//	refs, err := p.List(ctx, vacancy.Facet{Area: 1, Specialization: "1.221"})
//
// The paginator:
//   - Starts at page 0 and stops after page pages-1
//   - Trusts the count of the response just read, so a shrinking count still terminates
//   - Discards the partial result of a facet whose walk fails
//   - Stops at MaxPages and keeps the references read up to the cap
package pagination
