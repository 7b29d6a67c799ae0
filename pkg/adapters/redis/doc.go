// Package redis mirrors a session into Redis so other processes can read the
// reconciled execution state without holding a connection to the runtime.
//
// Snapshots are stored as JSON under <prefix><project> with a TTL. Changes,
// connection states, notifications and intents are published on
// <prefix><project>:events.
package redis
