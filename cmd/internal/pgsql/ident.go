// Package pgsql holds the small PostgreSQL helpers shared by the pgx-backed stores.
package pgsql

import (
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

// DefaultSchema is the schema used when a store is built without an explicit one.
const DefaultSchema = "carads"

var identRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidIdent reports whether s is a plain, unquoted-safe identifier.
func ValidIdent(s string) bool {
	return identRE.MatchString(s)
}

// NormalizeSchema trims and validates a schema name.
func NormalizeSchema(schema string) (string, error) {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		return "", errors.New("pgsql: empty schema")
	}
	if !ValidIdent(schema) {
		return "", errors.New("pgsql: invalid schema identifier")
	}
	return schema, nil
}

// Ident returns the quoted "schema"."table" form.
// pgx.Identifier safely quotes identifiers, preventing SQL injection.
func Ident(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

// SchemaIdent returns the quoted schema name.
func SchemaIdent(schema string) string {
	return pgx.Identifier{schema}.Sanitize()
}
