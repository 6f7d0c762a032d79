// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: row-locked job transitions, TTL locks for schedule entries,
// a game_sessions table serving the analytics queries, and embedded SQL
// migrations.
package postgres
