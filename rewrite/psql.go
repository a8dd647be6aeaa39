package rewrite

// PsqlCompatRules returns the built-in rule set that lets the psql
// command-line client's introspection meta-commands (\d, \dt, \dn, \di,
// \l) work against a catalog that does not implement the full PostgreSQL
// system catalog. psql never sends the backslash command itself — it
// expands each one to a fixed SQL query against pg_catalog, and these
// rules recognise that query shape and substitute an equivalent query
// against the catalog tables the downstream executor actually exposes.
//
// These rules are prepended to any user-configured rewrite rules when
// PSQL-compatibility mode is enabled, so they run first and a
// user-supplied rule never has to account for psql's own queries.
func PsqlCompatRules() []Rule {
	return []Rule{
		// \dt and \d: list tables (and, since we have no view/sequence
		// catalog, everything psql would otherwise call a relation).
		{
			InputPattern:  `(?s)^.*FROM pg_catalog\.pg_class c\s*.*relkind IN \('r','p',''\).*$`,
			OutputPattern: `SELECT table_schema AS "Schema", table_name AS "Name", table_type AS "Type" FROM information_schema.tables`,
		},
		// \di: list indexes. The embedded catalog does not expose index
		// metadata as a queryable relation, so this always returns zero
		// rows rather than erroring.
		{
			InputPattern:  `(?s)^.*FROM pg_catalog\.pg_class c\s*.*relkind IN \('i',''\).*$`,
			OutputPattern: `SELECT table_schema AS "Schema", table_name AS "Name" FROM information_schema.tables WHERE 1 = 0`,
		},
		// \dn: list schemas.
		{
			InputPattern:  `(?s)^.*FROM pg_catalog\.pg_namespace\s+.*nspname.*$`,
			OutputPattern: `SELECT nspname AS "Name" FROM pg_catalog.pg_namespace`,
		},
		// \l: list databases.
		{
			InputPattern:  `(?s)^.*FROM pg_catalog\.pg_database\s+.*datname.*$`,
			OutputPattern: `SELECT datname AS "Name" FROM pg_catalog.pg_database`,
		},
	}
}
