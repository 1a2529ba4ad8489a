// Package migrations embeds the Postgres schema for the query-side index.
// The authoritative conversation and firm records live in DynamoDB; these
// tables only serve list, search and analytics reads plus the audit trail.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
