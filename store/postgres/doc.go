// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: compare-and-set run transitions, a partial unique index
// enforcing one RUNNING run per entity, and embedded SQL migrations.
package postgres
