// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/bucketdb/bucketdb/internal/config"
)

// Init configures the logger from cfg. An empty level leaves the current
// level in place.
func Init(cfg config.LogConfig) error {
	switch cfg.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{})
	case "color":
		log.SetFormatter(&log.TextFormatter{ForceColors: true})
	default:
		return fmt.Errorf("unrecognized log format %q", cfg.Format)
	}

	if cfg.Level == "" {
		return nil
	}
	lvl, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("unrecognized log level: %w", err)
	}
	log.SetLevel(lvl)
	return nil
}
