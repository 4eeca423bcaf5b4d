// Package rollup computes related-organization rollups and writes them back
// to the CRM.
//
// # Overview
//
// A run pages through every organization. For each organization not yet seen
// in the run, the Resolver reads its related organization ids, the Aggregator
// fetches the related organizations concurrently and sums population,
// households and workforce, and the Driver writes the totals onto every
// organization that was fetched.
//
// # Seen Set
//
// SeenSet grows monotonically for the duration of one run. Origins are added
// before their relationships are resolved and related ids are claimed before
// they are fetched, so relationship cycles and overlapping related sets never
// cause an organization to be aggregated or written twice in one run.
//
// # Failure Handling
//
//   - Relationship, fetch and write-back failures are logged and skipped
//   - A failed fetch excludes the organization from the sum and the write-back
//   - A failed list call ends the run; the partial Summary is returned with the error
//
// # Single Run
//
// Runner admits one run at a time through a Guard: LocalGuard within a
// process, RedisGuard across replicas.
package rollup
