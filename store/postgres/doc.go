// Package postgres implements store.Store on PostgreSQL using pgx/v5.
//
// Claim candidates are filtered in SQL: runnable tasks whose state's
// capability tags are a subset of the server's (<@), outside paused
// groups, without a live step lock. Locks and leadership are taken with
// INSERT ... ON CONFLICT DO UPDATE ... WHERE, which makes every
// compare-and-set a single statement.
//
// Usage:
//
//	s, err := postgres.New(ctx, "postgres://localhost:5432/stepflow?sslmode=disable")
//	if err != nil { ... }
//	if err := s.Migrate(ctx); err != nil { ... }
package postgres
