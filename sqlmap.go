package sqlmap

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// Dialect identifies the SQL dialect for placeholder rendering and a few
// dialect-specific parsing behaviors.
type Dialect int

const (
	Postgres Dialect = iota
	MySQL
	SQLite
	SQLServer
)

const cacheSize = 4096 // Default size for the template and plan caches

// Config defines limits and behavior tweaks for parsing, caching and execution.
type Config struct {
	// MaxParams limits the number of placeholders a single template may emit.
	// If = 0 (or omitted), it uses a sensible per-dialect default.
	// If < 0, it's treated as "unlimited".
	MaxParams int
	// MaxNameLen limits the length of a placeholder name, e.g. ":this_is_a_name".
	MaxNameLen int
	// StrictMarkers makes a ':' that does not start a valid placeholder name
	// (and is not part of a '::' cast) fail with ErrMalformedTemplate instead of
	// being copied verbatim. Unterminated quotes and comments fail too.
	StrictMarkers bool
	// TemplateCacheSize bounds the number of parsed templates kept per Executor.
	TemplateCacheSize int
	// PlanCacheSize bounds the number of (record type, columns) plans kept.
	PlanCacheSize int
	// Logger receives debug events (cache misses, record derivation).
	// nil disables logging.
	Logger *zerolog.Logger
	// Middlewares wrap every driver round trip, first one outermost.
	Middlewares []Middleware
}

// Executor is the main entry point. It holds the dialect, configuration and
// the caches shared by every call: parsed templates, record metadata and
// mapping plans. Connections are always supplied by the caller.
// A single Executor is safe for concurrent use.
type Executor struct {
	dialect   Dialect
	config    Config
	log       zerolog.Logger
	templates *lru.Cache[string, *Template]
	records   *recordCache
	plans     *planCache
	handler   Handler
}

var defaultExecutor = sync.OnceValue(func() *Executor {
	return New(Postgres)
})

// String returns the string representation of the dialect.
func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case MySQL:
		return "mysql"
	case SQLite:
		return "sqlite"
	case SQLServer:
		return "sqlserver"
	default:
		return "unknown"
	}
}

// DialectFor picks a Dialect from a database/sql driver name.
// Unknown names fall back to SQLite, which shares MySQL's '?' placeholders.
func DialectFor(driverName string) Dialect {
	switch strings.ToLower(driverName) {
	case "pgx", "postgres", "postgresql", "pq", "pg":
		return Postgres
	case "mysql", "mariadb":
		return MySQL
	case "sqlserver", "mssql":
		return SQLServer
	default:
		return SQLite
	}
}

// New returns a new Executor for the given dialect. Optionally provide a
// Config; unspecified fields fall back to sensible per-dialect defaults.
func New(dialect Dialect, cfg ...Config) *Executor {
	c := defaultConfig(dialect, cfg...)

	// lru.New only fails on a non-positive size, which defaultConfig rules out.
	templates, _ := lru.New[string, *Template](c.TemplateCacheSize)

	ex := &Executor{
		dialect:   dialect,
		config:    c,
		log:       zerolog.Nop(),
		templates: templates,
		records:   newRecordCache(),
		plans:     newPlanCache(c.PlanCacheSize),
	}
	if c.Logger != nil {
		ex.log = c.Logger.With().Str("component", "sqlmap").Str("dialect", dialect.String()).Logger()
	}
	ex.handler = chain(driverHandler, c.Middlewares)
	return ex
}

// Default returns the process-wide Executor, built on first use with the
// Postgres dialect and default configuration. Prefer New and pass the
// Executor explicitly; Default exists for code that cannot.
func Default() *Executor {
	return defaultExecutor()
}

// Dialect returns the dialect the Executor renders placeholders for.
func (ex *Executor) Dialect() Dialect {
	return ex.dialect
}

// defaultConfig merges user config with per-dialect defaults.
func defaultConfig(dialect Dialect, config ...Config) Config {
	c := Config{}

	if len(config) > 0 {
		c = config[0]
	}

	if c.MaxParams == 0 {
		switch dialect {
		case SQLServer:
			c.MaxParams = 2100
		case SQLite:
			c.MaxParams = 999
		case Postgres, MySQL:
			c.MaxParams = 65535
		}
	}

	if c.MaxNameLen <= 0 {
		c.MaxNameLen = 64
	}

	if c.TemplateCacheSize <= 0 {
		c.TemplateCacheSize = cacheSize
	}

	if c.PlanCacheSize <= 0 {
		c.PlanCacheSize = cacheSize
	}

	return c
}
