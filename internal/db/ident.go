package db

import (
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

var safeIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// IsSafeIdent reports whether s is a plain SQL identifier that can be
// interpolated into a statement after quoting.
func IsSafeIdent(s string) bool {
	return safeIdent.MatchString(s)
}

// QuoteIdent validates and quotes a possibly schema-qualified identifier
// ("listings" or "public.listings") for Postgres.
func QuoteIdent(name string) (string, error) {
	parts := strings.Split(name, ".")
	for _, p := range parts {
		if !IsSafeIdent(p) {
			return "", eris.Errorf("db: unsafe identifier %q", name)
		}
	}
	return pgx.Identifier(parts).Sanitize(), nil
}

// QuoteSQLiteIdent validates and double-quotes a single identifier for SQLite.
func QuoteSQLiteIdent(name string) (string, error) {
	if !IsSafeIdent(name) {
		return "", eris.Errorf("db: unsafe identifier %q", name)
	}
	return `"` + name + `"`, nil
}
