package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

// Options configures how the database file is opened.
type Options struct {
	// Path is the database file path
	Path string

	// JournalMode is the SQLite journal mode (default WAL)
	JournalMode string

	// BusyTimeout is how long a connection waits on a locked database
	BusyTimeout time.Duration

	// ReadPoolSize bounds the number of concurrent reader connections
	ReadPoolSize int
}

// DefaultOptions returns options for a database at path.
func DefaultOptions(path string) Options {
	return Options{
		Path:         path,
		JournalMode:  "WAL",
		BusyTimeout:  5 * time.Second,
		ReadPoolSize: 4,
	}
}

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB holds a single writer connection and a pool of read-only connections
// onto the same SQLite file. All mutations go through Writer, which
// serializes them; queries use Reader and never wait on the writer.
type DB struct {
	writer *sql.DB
	reader *sql.DB
	path   string
}

// Open opens (creating if necessary) the database and its shared schema.
func Open(opts Options) (*DB, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("db: path is required")
	}
	if opts.JournalMode == "" {
		opts.JournalMode = "WAL"
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	if opts.ReadPoolSize <= 0 {
		opts.ReadPoolSize = 4
	}

	// Write connection: single writer
	writer, err := sql.Open("sqlite3", dsn(opts, false))
	if err != nil {
		return nil, fmt.Errorf("db: failed to open database: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)

	d := &DB{writer: writer, path: opts.Path}

	// Schema must exist before readers attach
	if err := d.initSchema(); err != nil {
		writer.Close()
		return nil, fmt.Errorf("db: failed to initialize schema: %w", err)
	}

	reader, err := sql.Open("sqlite3", dsn(opts, true))
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("db: failed to open read database: %w", err)
	}
	reader.SetMaxOpenConns(opts.ReadPoolSize)
	reader.SetMaxIdleConns(opts.ReadPoolSize)
	reader.SetConnMaxLifetime(5 * time.Minute)
	if err := reader.Ping(); err != nil {
		reader.Close()
		writer.Close()
		return nil, fmt.Errorf("db: failed to connect read database: %w", err)
	}
	d.reader = reader

	log.WithFields(log.Fields{
		"path":         opts.Path,
		"journal_mode": opts.JournalMode,
		"read_pool":    opts.ReadPoolSize,
	}).Debug("db: opened")
	return d, nil
}

func dsn(opts Options, readOnly bool) string {
	params := url.Values{}
	params.Set("_busy_timeout", strconv.FormatInt(opts.BusyTimeout.Milliseconds(), 10))
	if readOnly {
		params.Set("_query_only", "true")
	} else {
		params.Set("_journal_mode", opts.JournalMode)
	}
	return "file:" + opts.Path + "?" + params.Encode()
}

func (d *DB) initSchema() error {
	for _, stmt := range AllSchemaSQL() {
		if _, err := d.writer.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Writer returns the single-connection writer pool.
func (d *DB) Writer() *sql.DB { return d.writer }

// Reader returns the read-only connection pool.
func (d *DB) Reader() *sql.DB { return d.reader }

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// Close closes both pools.
func (d *DB) Close() error {
	var firstErr error
	if d.reader != nil {
		if err := d.reader.Close(); err != nil {
			firstErr = err
		}
	}
	if err := d.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// TableColumns returns the column names of table in declaration order, or
// an empty slice if the table does not exist.
func TableColumns(ctx context.Context, q Querier, table string) ([]string, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("db: table_info %s: %w", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("db: scan table_info %s: %w", table, err)
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: table_info %s: %w", table, err)
	}
	return columns, nil
}

// Stats summarises the shared tables.
type Stats struct {
	Objects   int64 `json:"objects"`
	IndexRows int64 `json:"index_rows"`
	Queued    int64 `json:"queued"`
	FileSize  int64 `json:"file_size"`
}

// BucketStats returns row counts for bucket. FileSize covers the whole
// database file.
func (d *DB) BucketStats(ctx context.Context, bucket string) (Stats, error) {
	var s Stats
	counts := []struct {
		query string
		dest  *int64
	}{
		{`SELECT count(*) FROM objects WHERE bucket = ?`, &s.Objects},
		{`SELECT count(*) FROM indexes WHERE bucket = ?`, &s.IndexRows},
		{`SELECT count(*) FROM reindex_queue WHERE bucket = ?`, &s.Queued},
	}
	for _, c := range counts {
		if err := d.reader.QueryRowContext(ctx, c.query, bucket).Scan(c.dest); err != nil {
			return s, fmt.Errorf("db: stats for %s: %w", bucket, err)
		}
	}
	if info, err := os.Stat(d.path); err == nil {
		s.FileSize = info.Size()
	}
	return s, nil
}
