// Package harvester drives fetch rounds until the set of missing feeds stops
// changing.
//
// # Rounds
//
// A run starts from the requested descriptors and a listing of the sink. Each
// round hands the missing feeds to the scheduler, waits for every fetch to
// finish, then lists the sink again:
//
//	Start -> RoundPending -> RoundDraining -> Reconciling -> RoundPending ...
//	                                                     \-> Converged
//
// The run converges when the missing set after a round is empty or equal, as
// a set, to the missing set the round started with. Converging on an
// unchanged non-empty set is what stops a run whose remaining feeds are down
// for good.
//
// # Retries
//
// Fetchers make one attempt each; retrying is only ever a later round. Feeds
// whose last failure was permanent (404, 401, malformed URL...) are not
// attempted again, and rounds after the first are delayed by an exponential
// backoff. If no feed is left to attempt the run converges.
//
// # Observers
//
// Observers see every fetch start and finish and the final Report. Their
// errors are logged and otherwise ignored.
package harvester
