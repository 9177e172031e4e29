package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scriptorium/internal/api"
	"github.com/jackzampolin/scriptorium/internal/queue"
	"github.com/jackzampolin/scriptorium/internal/store"
)

var (
	downloadStart int
	downloadEnd   int
	downloadOut   string
)

var downloadCmd = &cobra.Command{
	Use:   "download <url>",
	Short: "Download one manuscript without a server",
	Long: `Resolve and download a single manuscript in the foreground.

The job runs through an in-memory queue, so nothing is persisted and no
server is needed. Progress is printed as pages arrive.

Examples:
  scriptorium download https://digi.vatlib.it/view/MSS_Vat.lat.3225
  scriptorium download <url> --start 10 --end 40 --out vergil.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfgMgr, logger, h, err := setup()
		if err != nil {
			return err
		}
		cfg := cfgMgr.Get()

		publisher, err := newPublisher(ctx, cfg.Export)
		if err != nil {
			return err
		}

		outputPath := h.OutputPath
		if downloadOut != "" {
			outputPath = func(string, string) string { return downloadOut }
		}

		q, err := queue.New(ctx, queue.Config{
			Store:      store.NewMemoryStore(),
			Resolver:   newResolver(cfg.Fetch, logger),
			Downloader: newFetcher(cfg.Fetch, h, logger),
			Publisher:  publisher,
			OutputPath: outputPath,
			JobTimeout: cfg.Queue.JobTimeout(),
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			q.Close(closeCtx)
		}()

		spec := queue.JobSpec{URL: args[0]}
		if downloadStart > 0 || downloadEnd > 0 {
			spec.DownloadOptions = &queue.DownloadOptions{StartPage: downloadStart, EndPage: downloadEnd}
		}

		updates, unsubscribe := q.Subscribe()
		defer unsubscribe()

		id := q.AddJob(spec)
		q.StartProcessing()

		job, err := waitForJob(ctx, updates, id, func(j *queue.Job) {
			if p := j.Progress; p != nil {
				fmt.Printf("\r%s  %d/%d pages (%d%%)  eta %s   ", j.DisplayName, p.Current, p.Total, p.Percentage, p.ETA)
			}
		})
		fmt.Println()
		if err != nil {
			return err
		}
		if job.Status == queue.StatusFailed {
			return errors.New(job.Error)
		}
		return api.Output(job)
	},
}

// waitForJob consumes state updates until job id reaches a terminal status.
func waitForJob(ctx context.Context, updates <-chan *queue.State, id string, onUpdate func(*queue.Job)) (*queue.Job, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case st, ok := <-updates:
			if !ok {
				return nil, errors.New("queue closed")
			}
			for _, j := range st.Items {
				if j.ID != id {
					continue
				}
				if onUpdate != nil {
					onUpdate(j)
				}
				if j.Status == queue.StatusCompleted || j.Status == queue.StatusFailed {
					return j, nil
				}
			}
		}
	}
}

func init() {
	downloadCmd.Flags().IntVar(&downloadStart, "start", 0, "First page to download (1-based)")
	downloadCmd.Flags().IntVar(&downloadEnd, "end", 0, "Last page to download (inclusive)")
	downloadCmd.Flags().StringVar(&downloadOut, "out", "", "Output PDF path (default: ~/.scriptorium/downloads/<name>.pdf)")
	rootCmd.AddCommand(downloadCmd)
}
