package store

import (
	"strconv"
	"strings"
)

// dialect holds the SQL that differs between the SQLite family and Postgres.
type dialect struct {
	name     string
	schema   []string
	putQuery string
	numbered bool
}

const sqlitePut = `
	INSERT INTO sync_records (token_hash, payload, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(token_hash) DO UPDATE SET
		payload = excluded.payload,
		created_at = CASE WHEN sync_records.updated_at < ? THEN excluded.created_at ELSE sync_records.created_at END,
		updated_at = MAX(excluded.updated_at, sync_records.updated_at + 1)
	RETURNING created_at, updated_at
`

const postgresPut = `
	INSERT INTO sync_records (token_hash, payload, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (token_hash) DO UPDATE SET
		payload = EXCLUDED.payload,
		created_at = CASE WHEN sync_records.updated_at < ? THEN EXCLUDED.created_at ELSE sync_records.created_at END,
		updated_at = GREATEST(EXCLUDED.updated_at, sync_records.updated_at + 1)
	RETURNING created_at, updated_at
`

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS sync_records (
			token_hash TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sync_records_updated ON sync_records(updated_at);`,
	},
	putQuery: sqlitePut,
}

var postgresDialect = dialect{
	name: "postgres",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS sync_records (
			token_hash TEXT PRIMARY KEY,
			payload BYTEA NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sync_records_updated ON sync_records(updated_at);`,
	},
	putQuery: postgresPut,
	numbered: true,
}

func dialectFor(driver string) dialect {
	if driver == driverPostgres {
		return postgresDialect
	}
	return sqliteDialect
}

// bind rewrites ? placeholders to $n for drivers that need numbered ones.
// Queries in this package never contain ? inside string literals.
func (d dialect) bind(query string) string {
	if !d.numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
