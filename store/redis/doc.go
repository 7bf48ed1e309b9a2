// Package redis implements store.Store on Redis.
//
// Records are JSON documents in Redis Hashes. Fields that must never be
// clobbered by a concurrent step (a task's wake-up time and termination
// request) live in their own hash fields next to the document and are
// written only by Lua scripts. Lock and leadership expiry is evaluated
// against the store clock inside those scripts, which keeps every
// check-and-set atomic on the server.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
