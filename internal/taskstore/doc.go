// Package taskstore owns the state of the single active run and persists it as
// one resumable snapshot.
//
// Session is the explicitly owned value the workflow and engines share: the
// loaded inputs and template, the chosen mode, async Requests indexed by
// request id and remote task id, the batch task, and the result list. The
// engine goroutine is the only writer; every reader receives copies taken
// under a read lock. A generation counter increments on Reset so late results
// from a previous run can be recognised and dropped.
//
// SnapshotStore saves and loads the serialized Session. SQLiteStore is the
// default backend; RedisStore lets several hosts share one session key. Lock
// guards a state directory against two concurrent runs.
package taskstore
