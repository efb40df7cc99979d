// Package progress tracks live per-upload pipeline state.
//
// A Store maps upload ids to Records. MemoryStore serves a single process;
// RedisStore lets several API replicas share one view. Each job owns one
// Reporter, the only writer for that upload, which clamps percent so it
// never decreases before a terminal state. Pollers read through Tracker,
// which adds the derived ETA. Records are evicted once they are older than
// the TTL whatever their state: MemoryStore by Sweep, RedisStore by key
// expiry.
package progress
