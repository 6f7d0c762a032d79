// Package redis implements store.Store on Redis for deployments that already
// run Redis for the delivery queue and want a single backing service.
//
// Jobs are Redis Hashes indexed per tenant by a Sorted Set, audit entries
// are append-only Lists, schedule entries are JSON values, and gameplay
// sessions live in one Hash per tenant keyed by session ID. Read-modify-write
// paths (job transitions and schedule locks) use WATCH/MULTI so concurrent
// workers never overwrite each other.
//
// The caller owns the client lifecycle:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
