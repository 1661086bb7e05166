package dbgateway

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sqlmentor/sqlmentor/internal/memory"
	"github.com/sqlmentor/sqlmentor/internal/observability"
)

// Gateway opens a short-lived database/sql connection per call. Target
// databases are external and user-owned, so holding pools for every
// registered connection would leak resources for rarely-used ones.
type Gateway struct {
	timeout time.Duration
	logger  *slog.Logger
}

func NewGateway(timeout time.Duration, logger *slog.Logger) *Gateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{timeout: timeout, logger: logger}
}

func (g *Gateway) IntrospectSchema(ctx context.Context, conn memory.Connection) (Schema, error) {
	db, err := g.open(conn)
	if err != nil {
		return Schema{}, err
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if normalizeEngine(conn.Engine) == "sqlite" {
		return introspectSQLite(ctx, db)
	}
	return introspectInformationSchema(ctx, db, conn)
}

func (g *Gateway) ExecuteQuery(ctx context.Context, conn memory.Connection, sqlText string, maxRows int) (QueryResult, error) {
	if err := CheckReadOnly(sqlText); err != nil {
		return QueryResult{}, err
	}

	db, err := g.open(conn)
	if err != nil {
		return QueryResult{}, err
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	rows, err := db.QueryContext(ctx, stripTrailingSemicolons(sqlText))
	if err != nil {
		return QueryResult{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return QueryResult{}, fmt.Errorf("query columns: %w", err)
	}

	result := QueryResult{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		if maxRows > 0 && len(result.Rows) >= maxRows {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return QueryResult{}, fmt.Errorf("scan row: %w", err)
		}
		result.Rows = append(result.Rows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return QueryResult{}, fmt.Errorf("iterate rows: %w", err)
	}

	result.RowCount = len(result.Rows)
	result.Duration = time.Since(start)
	observability.IncrementExecutedStatements()

	if g.logger != nil {
		g.logger.Debug("executed query",
			slog.String("connection_id", conn.ID),
			slog.Int("rows", result.RowCount),
			slog.Bool("truncated", result.Truncated),
			slog.Duration("duration", result.Duration),
		)
	}
	return result, nil
}

// Ping verifies a connection's credentials and reachability.
func (g *Gateway) Ping(ctx context.Context, conn memory.Connection) error {
	db, err := g.open(conn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", conn.Engine, err)
	}
	return nil
}

func (g *Gateway) open(conn memory.Connection) (*sql.DB, error) {
	driver, err := driverName(conn.Engine)
	if err != nil {
		return nil, err
	}
	dsn, err := BuildDSN(conn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", conn.Engine, err)
	}
	db.SetMaxOpenConns(2)
	return db, nil
}

func driverName(engine string) (string, error) {
	switch normalizeEngine(engine) {
	case "postgres":
		return "postgres", nil
	case "mysql":
		return "mysql", nil
	case "sqlserver":
		return "sqlserver", nil
	case "sqlite":
		return "sqlite3", nil
	case "duckdb":
		return "duckdb", nil
	default:
		return "", fmt.Errorf("unsupported engine %q", engine)
	}
}

func normalizeEngine(engine string) string {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "postgres", "postgresql":
		return "postgres"
	case "mysql", "mariadb":
		return "mysql"
	case "sqlserver", "mssql":
		return "sqlserver"
	case "sqlite", "sqlite3":
		return "sqlite"
	case "duckdb":
		return "duckdb"
	default:
		return strings.ToLower(strings.TrimSpace(engine))
	}
}

// BuildDSN assembles a driver DSN from the connection's fields. A raw DSN on
// the connection wins over the structured fields.
func BuildDSN(conn memory.Connection) (string, error) {
	if strings.TrimSpace(conn.DSN) != "" {
		return strings.TrimSpace(conn.DSN), nil
	}

	switch normalizeEngine(conn.Engine) {
	case "postgres":
		parts := []string{
			"host=" + defaultString(conn.Host, "localhost"),
			fmt.Sprintf("port=%d", defaultPort(conn.Port, 5432)),
			"dbname=" + conn.Database,
			"sslmode=disable",
		}
		if conn.Username != "" {
			parts = append(parts, "user="+conn.Username)
		}
		if conn.Password != "" {
			parts = append(parts, "password="+conn.Password)
		}
		return strings.Join(parts, " "), nil
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			conn.Username, conn.Password,
			defaultString(conn.Host, "localhost"), defaultPort(conn.Port, 3306),
			conn.Database,
		), nil
	case "sqlserver":
		u := url.URL{
			Scheme: "sqlserver",
			Host:   fmt.Sprintf("%s:%d", defaultString(conn.Host, "localhost"), defaultPort(conn.Port, 1433)),
		}
		if conn.Username != "" {
			u.User = url.UserPassword(conn.Username, conn.Password)
		}
		values := url.Values{}
		values.Set("database", conn.Database)
		u.RawQuery = values.Encode()
		return u.String(), nil
	case "sqlite", "duckdb":
		if strings.TrimSpace(conn.Database) == "" {
			return "", fmt.Errorf("%s connection requires a database file path", conn.Engine)
		}
		return conn.Database, nil
	default:
		return "", fmt.Errorf("unsupported engine %q", conn.Engine)
	}
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func defaultPort(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func introspectInformationSchema(ctx context.Context, db *sql.DB, conn memory.Connection) (Schema, error) {
	query, args := informationSchemaQuery(conn)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return Schema{}, fmt.Errorf("introspect schema: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := map[string]*TableSchema{}
	var order []string
	for rows.Next() {
		var tableName, columnName, dataType, isNullable string
		if err := rows.Scan(&tableName, &columnName, &dataType, &isNullable); err != nil {
			return Schema{}, fmt.Errorf("scan schema row: %w", err)
		}
		table, ok := tables[tableName]
		if !ok {
			table = &TableSchema{Name: tableName}
			tables[tableName] = table
			order = append(order, tableName)
		}
		table.Columns = append(table.Columns, ColumnSchema{
			Name:     columnName,
			Type:     dataType,
			Nullable: strings.EqualFold(isNullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return Schema{}, fmt.Errorf("iterate schema rows: %w", err)
	}

	sort.Strings(order)
	schema := Schema{Tables: make([]TableSchema, 0, len(order))}
	for _, name := range order {
		schema.Tables = append(schema.Tables, *tables[name])
	}
	return schema, nil
}

func informationSchemaQuery(conn memory.Connection) (string, []any) {
	const base = `SELECT table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE %s
ORDER BY table_name, ordinal_position`

	switch normalizeEngine(conn.Engine) {
	case "mysql":
		return fmt.Sprintf(base, "table_schema = DATABASE()"), nil
	case "sqlserver":
		return fmt.Sprintf(base, "table_schema NOT IN ('sys', 'INFORMATION_SCHEMA')"), nil
	case "duckdb":
		return fmt.Sprintf(base, "table_schema = 'main'"), nil
	default:
		return fmt.Sprintf(base, "table_schema NOT IN ('information_schema', 'pg_catalog')"), nil
	}
}

func introspectSQLite(ctx context.Context, db *sql.DB) (Schema, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return Schema{}, fmt.Errorf("list sqlite tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return Schema{}, fmt.Errorf("scan sqlite table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return Schema{}, fmt.Errorf("iterate sqlite tables: %w", err)
	}
	_ = rows.Close()

	schema := Schema{Tables: make([]TableSchema, 0, len(names))}
	for _, name := range names {
		table := TableSchema{Name: name}
		columnRows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, quoteIdent(name)))
		if err != nil {
			return Schema{}, fmt.Errorf("introspect sqlite table %q: %w", name, err)
		}
		for columnRows.Next() {
			var (
				cid        int
				columnName string
				columnType string
				notNull    int
				defaultVal sql.NullString
				primaryKey int
			)
			if err := columnRows.Scan(&cid, &columnName, &columnType, &notNull, &defaultVal, &primaryKey); err != nil {
				_ = columnRows.Close()
				return Schema{}, fmt.Errorf("scan sqlite column: %w", err)
			}
			table.Columns = append(table.Columns, ColumnSchema{
				Name:     columnName,
				Type:     columnType,
				Nullable: notNull == 0,
			})
		}
		if err := columnRows.Err(); err != nil {
			_ = columnRows.Close()
			return Schema{}, fmt.Errorf("iterate sqlite columns: %w", err)
		}
		_ = columnRows.Close()
		schema.Tables = append(schema.Tables, table)
	}
	return schema, nil
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}
