// Package roster implements the multi-company driver roster aggregation.
//
// For every company the Aggregator authenticates a tenant session, fetches the
// raw driver roster, normalizes it, and snapshots the accumulated
// AggregateResult to the artifact store. Companies are processed strictly one
// after another; a company whose backend calls exhaust their retries becomes
// an error-tagged entry and the run continues with the next company.
//
// Only one run may target a given output key at a time. The snapshot is a
// full read-free overwrite, so two concurrent runs would interleave and lose
// entries; preventing that is the caller's responsibility.
package roster
