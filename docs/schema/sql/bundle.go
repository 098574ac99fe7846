// Package sqldocs exposes the relational result-store schema directly from the docs tree.
package sqldocs

import _ "embed"

// SQLite contains the SQLite DDL for simulations, datasets, and cached results.
//
//go:embed sqlite.sql
var SQLite string

// Postgres contains the Postgres DDL for simulations, datasets, and cached results.
//
//go:embed postgres.sql
var Postgres string
