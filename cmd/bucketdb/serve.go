package main

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/bucketdb/bucketdb/internal/app"
)

type cmdServe struct {
	Addr string `long:"addr" description:"HTTP listen address (overrides http.addr)"`
}

func (cmd *cmdServe) Execute([]string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Addr != "" {
		cfg.HTTP.Addr = cmd.Addr
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	log.WithFields(log.Fields{
		"version": version,
		"commit":  commit,
	}).Info("bucketdb serving")

	return a.WaitForShutdown(ctx)
}
