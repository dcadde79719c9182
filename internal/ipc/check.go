package ipc

// CheckResult is the result of aggregating all enabled providers for one IP.
// It is the input of the derivation layer and the unit stored in the merged
// cache.
type CheckResult struct {
	// Merged is the shallow overlay of all successful provider data maps in
	// their completion order.
	Merged Map

	// ASN is the autonomous system number discovered during aggregation, if
	// any.  It keeps the textual form of the provider that reported it.
	ASN string

	// IP is the target IP address exactly as it was requested.
	IP string

	// Successful are the provider results with [StatusSuccess], in completion
	// order.
	Successful []*ProviderResult

	// Errors are the per-provider failures, in completion order.
	Errors []*ProviderError

	// CachedAPICount is the number of provider results that were served from
	// the cache.
	CachedAPICount int

	// TotalAPICount is the total number of providers attempted.
	TotalAPICount int

	// FromCache is true when the whole result was served from the merged
	// cache.
	FromCache bool
}

// SourceIDs returns the ordered identifiers of the successful sources.
func (r *CheckResult) SourceIDs() (ids []Source) {
	ids = make([]Source, 0, len(r.Successful))
	for _, pr := range r.Successful {
		ids = append(ids, pr.Source)
	}

	return ids
}
