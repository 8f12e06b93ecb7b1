// Package cache provides the key/value storage shared by the launcher's
// client state: balance entries, the token ledger and wheel cooldowns.
//
// # Implementations
//
//   - [NewInMemory]: process-local map split into xxhash-selected shards.
//     Values are stored as-is. Expired entries are swept by a background
//     goroutine.
//
//   - [NewSQLite]: a file (or ":memory:") database using [modernc.org/sqlite].
//     Values are msgpack encoded. Tokens and cooldowns kept here survive
//     restarts.
//
//   - [NewRedis]: values are msgpack encoded under an optional key prefix.
//     Useful when several launcher processes on one machine share state.
//
//   - [NewComposite]: chains caches; reads return the first hit and writes go
//     to every layer.
//
// # Expiry
//
// SetContext takes a TTL. Zero selects the configured default ([WithExpires]),
// [NoExpiry] keeps the value until [Cache.ExpireContext] or
// [Cache.ExpirePrefixContext] removes it.
//
// # Typed reads
//
// [GetContext] asserts in-memory values directly and decodes serialized ones:
//
//	found, entry, err := cache.GetContext[balance.Entry](ctx, c, "balance:p1")
package cache
