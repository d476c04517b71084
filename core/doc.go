// Package core contains the webhook inbox domain: the buffered event entity,
// its status state machine, the ingestion and processing orchestration, and
// the contracts that storage, queue and publisher adapters implement.
//
// Event lifecycle:
// pending -> processing -> done | pending (retry) | failed (dead letter).
// A failed event only returns to pending through re-ingestion or an explicit
// administrative requeue. Rows left in processing by a crashed worker are not
// recovered automatically; see Admin.ResetStuck.
package core
