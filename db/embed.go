// Package db holds the embedded schema applied on startup. The DDL is
// idempotent, so re-running it against an existing database is safe.
package db

import _ "embed"

// Schema contains the DDL for the products, users, orders and sessions tables.
//
//go:embed migrations/001_schema.sql
var Schema string
