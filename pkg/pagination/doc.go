// Package pagination exports large identifier sets from the catalog in
// bounded batches.
//
// The export endpoint takes its identifiers in the query string, so a single
// request can carry at most BatchLimit ids (30 by default). Larger sets are
// partitioned in input order; each batch is exported to a temporary file,
// appended byte-for-byte to the final artifact and then removed.
//
// Example usage:
//
//	config := pagination.DefaultConfig()
//	config.OutputDir = "/var/lib/sierra-export"
//	fetcher := pagination.NewBatchFetcher(sierraClient, sierraClient, cooldown, config, logger)
//	artifact, cred, err := fetcher.Fetch(ctx, ids, "updates-2024-01-01.mrc", "2024-01-01", cred)
//
// The batch fetcher:
//   - Retries a failed batch until it succeeds; there is no retry cap
//   - Waits out the rate-limit cool-down when the catalog answers code 138
//   - Re-authenticates on any other remote failure and retries with the new token
//   - Stops on local filesystem errors and on rejected authentication
//   - Returns the credential in use when it finished so callers can reuse it
package pagination
