// Package mongo implements store.Store on MongoDB.
//
// Each subsystem owns a collection. Check-and-set operations (lock and
// leadership acquisition, wake-ups, heartbeats) are single conditional
// updates, with duplicate-key errors from upserts signalling a lost race.
// Expiry is evaluated against the store clock, not server TTL indexes.
//
// The caller owns the *mongo.Database lifecycle:
//
//	client, _ := mongod.Connect(options.Client().ApplyURI(uri))
//	s := mongo.New(client.Database("stepflow"))
//	if err := s.Migrate(ctx); err != nil { ... }
package mongo
