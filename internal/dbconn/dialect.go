package dbconn

import (
	"fmt"
	"regexp"
	"strings"
)

// Dialect identifies the SQL flavor of a configured server.
type Dialect string

const (
	DialectMSSQL    Dialect = "sqlserver"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectMariaDB  Dialect = "mariadb"
	DialectMongo    Dialect = "mongodb"
)

// ParseDialect maps a configured driver name to a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlserver", "mssql":
		return DialectMSSQL, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	case "mysql":
		return DialectMySQL, nil
	case "mariadb":
		return DialectMariaDB, nil
	case "mongodb", "mongo":
		return DialectMongo, nil
	default:
		return "", fmt.Errorf("dbconn: unknown driver %q", driver)
	}
}

// driverName returns the database/sql driver registered for the dialect.
func (d Dialect) driverName() string {
	switch d {
	case DialectMSSQL:
		return "sqlserver"
	case DialectPostgres:
		return "pgx"
	case DialectMySQL, DialectMariaDB:
		return "mysql"
	}
	return string(d)
}

// paramRe matches @name parameter markers. Stored mapping SQL uses the MSSQL
// convention regardless of target dialect.
var paramRe = regexp.MustCompile(`@([A-Za-z_][A-Za-z0-9_]*)`)

// topRe matches the MSSQL row-limit idiom at the head of a SELECT.
var topRe = regexp.MustCompile(`(?i)\bSELECT\s+TOP\s+(\d+)\b`)

// fnReplacements maps MSSQL date/id functions to portable equivalents for
// non-MSSQL targets.
var fnReplacements = []struct{ from, to string }{
	{"SYSUTCDATETIME()", "CURRENT_TIMESTAMP"},
	{"SYSDATETIME()", "CURRENT_TIMESTAMP"},
	{"GETUTCDATE()", "CURRENT_TIMESTAMP"},
	{"GETDATE()", "CURRENT_TIMESTAMP"},
	{"NEWID()", "UUID()"},
}

// Translate rewrites MSSQL-flavored SQL for the target dialect and flattens
// the named parameter map into positional args in marker order. MSSQL keeps
// its native @name markers (bound positionally by the driver's named-arg
// support handled in conn.go); MySQL/MariaDB get `?`, Postgres gets `$n`
// (deduplicated per name).
//
// Parameter markers inside single-quoted string literals are left alone.
func Translate(dialect Dialect, query string, params map[string]any) (string, []any, error) {
	if dialect == DialectMongo {
		return "", nil, fmt.Errorf("dbconn: raw SQL is not supported on mongodb servers")
	}

	query = translateTop(dialect, query)
	query = translateFunctions(dialect, query)

	var (
		args    []any
		ordinal = map[string]int{} // postgres: name → $n
		missing []string
	)

	out := replaceOutsideQuotes(query, func(segment string) string {
		return paramRe.ReplaceAllStringFunc(segment, func(marker string) string {
			name := marker[1:]
			val, ok := lookupParam(params, name)
			if !ok {
				missing = append(missing, name)
				return marker
			}
			switch dialect {
			case DialectMSSQL:
				// Named args appended once per name.
				if _, seen := ordinal[name]; !seen {
					ordinal[name] = len(args)
					args = append(args, namedArg(name, val))
				}
				return marker
			case DialectPostgres:
				n, seen := ordinal[name]
				if !seen {
					args = append(args, val)
					n = len(args)
					ordinal[name] = n
				}
				return fmt.Sprintf("$%d", n)
			default: // mysql, mariadb
				args = append(args, val)
				return "?"
			}
		})
	})

	if len(missing) > 0 {
		return "", nil, fmt.Errorf("dbconn: missing parameters %v", missing)
	}
	return out, args, nil
}

// translateTop rewrites SELECT TOP n to LIMIT n for dialects without TOP.
func translateTop(dialect Dialect, query string) string {
	if dialect == DialectMSSQL {
		return query
	}
	m := topRe.FindStringSubmatch(query)
	if m == nil {
		return query
	}
	query = topRe.ReplaceAllString(query, "SELECT")
	return strings.TrimRight(query, " ;") + " LIMIT " + m[1]
}

func translateFunctions(dialect Dialect, query string) string {
	if dialect == DialectMSSQL {
		return query
	}
	upper := strings.ToUpper(query)
	for _, r := range fnReplacements {
		for {
			idx := strings.Index(upper, r.from)
			if idx < 0 {
				break
			}
			query = query[:idx] + r.to + query[idx+len(r.from):]
			upper = strings.ToUpper(query)
		}
	}
	return query
}

// replaceOutsideQuotes applies fn to the segments of query that are outside
// single-quoted string literals, preserving the literals verbatim.
func replaceOutsideQuotes(query string, fn func(string) string) string {
	var b strings.Builder
	for {
		idx := strings.IndexByte(query, '\'')
		if idx < 0 {
			b.WriteString(fn(query))
			return b.String()
		}
		b.WriteString(fn(query[:idx]))
		rest := query[idx+1:]
		end := strings.IndexByte(rest, '\'')
		if end < 0 {
			// Unterminated literal; pass through untouched.
			b.WriteString(query[idx:])
			return b.String()
		}
		b.WriteString(query[idx : idx+end+2])
		query = rest[end+1:]
	}
}

// lookupParam finds a parameter case-insensitively; stored SQL and mapping
// configs do not always agree on casing.
func lookupParam(params map[string]any, name string) (any, bool) {
	if v, ok := params[name]; ok {
		return v, true
	}
	for k, v := range params {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// WrapLookup ensures a lookup expression is a runnable SELECT. Bare
// expressions are wrapped as `SELECT <expr> AS result` per the lookup
// protocol.
func WrapLookup(query string) string {
	trimmed := strings.TrimSpace(query)
	if len(trimmed) >= 6 && strings.EqualFold(trimmed[:6], "SELECT") {
		return trimmed
	}
	return "SELECT " + trimmed + " AS result"
}

// SubstituteDocumentID replaces the literal @documentId token in a custom
// query textually. Custom queries embed the id rather than binding it so the
// same query text works for numeric and string ids; string ids are quoted
// with doubled embedded quotes.
func SubstituteDocumentID(query string, documentID any) string {
	lit := formatSQLLiteral(documentID)
	out := replaceOutsideQuotes(query, func(segment string) string {
		re := regexp.MustCompile(`(?i)@documentId\b`)
		return re.ReplaceAllString(segment, lit)
	})
	return out
}

func formatSQLLiteral(v any) string {
	switch x := v.(type) {
	case int, int32, int64, uint, uint32, uint64, float32, float64:
		return fmt.Sprint(x)
	case string:
		if isNumeric(x) {
			return x
		}
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprint(x), "'", "''") + "'"
	}
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r >= '0' && r <= '9' {
			continue
		}
		if i == 0 && (r == '-' || r == '+') {
			continue
		}
		if r == '.' {
			continue
		}
		return false
	}
	return true
}
