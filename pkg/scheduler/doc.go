// Package scheduler drives one budget-limited dispatch invocation for a
// workday.
//
// Each call to Run takes the workday lease, loads or creates the workday's
// checkpoint and then processes recipients in fixed-size batches, ordered by
// email, for as long as the invocation budget leaves more than the safety
// margin. After every batch the cursor and counters are persisted, so a later
// invocation resumes exactly after the last processed recipient.
//
// Outcomes:
//
//   - recipient list exhausted: the checkpoint is marked completed
//   - budget exhausted: progress is persisted and a continuation is requested
//   - checkpoint or recipient store failure: the checkpoint is marked failed
//     (best effort) and the error is returned
//
// Completed and failed checkpoints are terminal; Run returns immediately for
// them without touching recipients or the upstream API.
//
// Upstream and delivery failures never abort a run. The first surfaces as a
// missing record, the second is counted and listed in the summary while the
// cursor still moves past the recipient.
package scheduler
