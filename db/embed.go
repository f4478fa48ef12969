// Package db embeds the checkout database schema.
package db

import _ "embed"

// Schema creates the products, variants, coupons and invoices tables. It is
// idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string
