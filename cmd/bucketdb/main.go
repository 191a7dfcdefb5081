// Package main implements the bucketdb command: it serves the admin
// endpoints and offers one-shot commands against a local database.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/bucketdb/bucketdb/internal/app"
	"github.com/bucketdb/bucketdb/internal/config"
	"github.com/bucketdb/bucketdb/internal/logging"
	"github.com/bucketdb/bucketdb/internal/store"
)

var (
	version = "dev"
	commit  = "unknown"
)

// globalOptions are accepted by every sub-command.
type globalOptions struct {
	Config  string `long:"config" short:"c" env:"BUCKETDB_CONFIG" description:"Path to configuration file (YAML or JSON)"`
	DataDir string `long:"data-dir" description:"Base directory for all data files"`
	DBPath  string `long:"db" description:"Database file (default <data-dir>/bucketdb.db)"`

	Log struct {
		Level  string `long:"level" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" choice:"fatal" description:"Logging level"`
		Format string `long:"format" choice:"json" choice:"text" choice:"color" description:"Logging output format"`
	} `group:"Logging" namespace:"log"`
}

var global globalOptions

func main() {
	parser := flags.NewParser(&global, flags.Default)
	parser.LongDescription = `bucketdb stores keyed JSON documents per bucket, keeps their
secondary and full-text indexes current and answers structured queries.

Configuration is read from the --config file, then BUCKETDB_* environment
variables, then command line flags, each overriding the one before.`

	mustAddCmd(parser.Command, "serve", "Serve metrics and admin endpoints", `
Open every configured bucket, start their reindex passes and serve /health,
/metrics and the /v1 admin endpoints until SIGINT or SIGTERM.
`, &cmdServe{})
	mustAddCmd(parser.Command, "put", "Store a document", `
Store a JSON object under KEY. The document is read from the DATA argument,
or from stdin when DATA is omitted or "-".
`, &cmdPut{})
	mustAddCmd(parser.Command, "get", "Print a document", "", &cmdGet{})
	mustAddCmd(parser.Command, "delete", "Delete a document", "", &cmdDelete{})
	mustAddCmd(parser.Command, "query", "Query a bucket", queryHelp, &cmdQuery{})
	mustAddCmd(parser.Command, "count", "Count matching documents", queryHelp, &cmdCount{})
	mustAddCmd(parser.Command, "reindex", "Rebuild bucket indexes", `
Rebuild the index rows of every document in the bucket, or of every
configured bucket when --bucket is not given, and wait for the passes to end.
`, &cmdReindex{})
	mustAddCmd(parser.Command, "reset", "Delete every document of a bucket", "", &cmdReset{})
	mustAddCmd(parser.Command, "stats", "Show bucket statistics", "", &cmdStats{})
	mustAddCmd(parser.Command, "version", "Print version information", "", &cmdVersion{})

	if _, err := parser.Parse(); err != nil {
		if fe, ok := err.(*flags.Error); ok && fe.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

func mustAddCmd(cmd *flags.Command, name, short, long string, data interface{}) {
	if _, err := cmd.AddCommand(name, short, long, data); err != nil {
		log.WithFields(log.Fields{"cmd": name, "err": err}).Fatal("failed to add command")
	}
}

// loadConfig reads the file, then the environment, then global flags, and
// initializes logging.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if global.Config != "" {
		var err error
		if cfg, err = config.LoadFromFile(global.Config); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)

	if global.DataDir != "" {
		cfg.DataDir = global.DataDir
	}
	if global.DBPath != "" {
		cfg.Database.Path = global.DBPath
	}
	if global.Log.Level != "" {
		cfg.Log.Level = global.Log.Level
	}
	if global.Log.Format != "" {
		cfg.Log.Format = global.Log.Format
	}

	if err := logging.Init(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openApp opens the database for a one-shot command. Reindex passes are not
// started automatically; a command that needs one starts it itself.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg.Reindex.AutoStart = false

	a, err := app.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := a.Open(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// bucketStore returns the configured store for bucket, attaching an
// unindexed one when the configuration does not name it.
func bucketStore(ctx context.Context, a *app.App, bucket string) (*store.BucketStore, error) {
	if s, ok := a.Store(bucket); ok {
		return s, nil
	}
	log.WithField("bucket", bucket).Debug("bucket not configured, attaching without indexes")
	return a.Attach(ctx, config.BucketConfig{Name: bucket})
}

type cmdVersion struct{}

func (cmd *cmdVersion) Execute([]string) error {
	fmt.Printf("bucketdb version %s (commit: %s)\n", version, commit)
	return nil
}
