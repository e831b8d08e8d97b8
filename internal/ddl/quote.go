package ddl

import (
	"strings"

	"github.com/lib/pq"
)

// MaxIdentifierLength is Postgres' NAMEDATALEN-1; longer names are truncated
// silently by the server.
const MaxIdentifierLength = 63

// QuoteIdent quotes a single identifier. Identifiers are always quoted so
// that legacy mixed-case names survive untouched.
func QuoteIdent(name string) string {
	return pq.QuoteIdentifier(name)
}

// QuoteLiteral quotes a string literal.
func QuoteLiteral(s string) string {
	return pq.QuoteLiteral(s)
}

// Qualified quotes schema and name and joins them. An empty schema yields the
// bare quoted name.
func Qualified(schemaName, name string) string {
	if schemaName == "" {
		return QuoteIdent(name)
	}
	return QuoteIdent(schemaName) + "." + QuoteIdent(name)
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
