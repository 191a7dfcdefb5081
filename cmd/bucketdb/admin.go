package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"

	"github.com/bucketdb/bucketdb/internal/app"
	"github.com/bucketdb/bucketdb/internal/reindex"
)

type cmdReindex struct {
	Bucket string `long:"bucket" short:"b" description:"Bucket name (default: every configured bucket)"`
}

func (cmd *cmdReindex) Execute([]string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	buckets := a.Buckets()
	if cmd.Bucket != "" {
		if _, err := bucketStore(ctx, a, cmd.Bucket); err != nil {
			return err
		}
		buckets = []string{cmd.Bucket}
	}

	table := tablewriter.NewWriter(stdout)
	table.Header("Bucket", "Result", "Pending")
	var failed []string
	for _, name := range buckets {
		s, _ := a.Store(name)
		if err := s.Prepare(a.Context()); err != nil {
			return fmt.Errorf("reindex %s: %w", name, err)
		}
		state := s.WaitReindex()
		pending, err := s.PendingReindex(ctx)
		if err != nil {
			return err
		}
		if state != reindex.Completed {
			failed = append(failed, name)
		}
		log.WithFields(log.Fields{"bucket": name, "state": state}).Debug("reindex finished")
		if err := table.Append([]string{name, state.String(), strconv.Itoa(pending)}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	if len(failed) != 0 {
		return fmt.Errorf("reindex did not complete for %s", strings.Join(failed, ", "))
	}
	return nil
}

type cmdReset struct {
	bucketFlag
	Yes bool `long:"yes" description:"Confirm deleting every document of the bucket"`
}

func (cmd *cmdReset) Execute([]string) error {
	if !cmd.Yes {
		return fmt.Errorf("reset deletes every document of %s; pass --yes to confirm", cmd.Bucket)
	}
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := bucketStore(ctx, a, cmd.Bucket)
	if err != nil {
		return err
	}
	return s.Reset(ctx)
}

type cmdStats struct {
	Format string `long:"format" short:"f" default:"table" choice:"table" choice:"json" description:"Output format"`
}

func (cmd *cmdStats) Execute([]string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	infos := make([]app.BucketInfo, 0)
	for _, name := range a.Buckets() {
		info, err := a.Info(ctx, name)
		if err != nil {
			return err
		}
		infos = append(infos, info)
	}

	if cmd.Format == "json" {
		return printJSON(infos)
	}

	table := tablewriter.NewWriter(stdout)
	table.Header("Bucket", "Objects", "Index Rows", "Queued", "Reindex", "Full-Text")
	for _, info := range infos {
		err := table.Append([]string{
			info.Name,
			humanize.Comma(info.Objects),
			humanize.Comma(info.IndexRows),
			humanize.Comma(info.Queued),
			info.ReindexState,
			strings.Join(info.FullText, ", "),
		})
		if err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	var size int64
	if fi, err := os.Stat(a.DB().Path()); err == nil {
		size = fi.Size()
	}
	fmt.Fprintf(stdout, "Database %s: %s\n", a.DB().Path(), humanize.Bytes(uint64(size)))
	return nil
}
