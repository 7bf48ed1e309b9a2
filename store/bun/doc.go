// Package bunstore implements store.Store using the Bun ORM with the
// PostgreSQL dialect.
//
// Tables are created from the model structs on Migrate. Claim queries and
// conditional upserts for locks and leadership run as raw SQL; everything
// else goes through Bun's query builders. Expiry is evaluated against the
// store clock.
//
// The caller owns the *bun.DB lifecycle:
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	s := bunstore.New(db)
//	if err := s.Migrate(ctx); err != nil { ... }
package bunstore
