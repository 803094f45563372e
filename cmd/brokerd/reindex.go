package main

import (
	"brokerd/engine"
	"brokerd/pkg/logger"
	"brokerd/worker"

	"github.com/spf13/cobra"
)

func newReindexCmd() *cobra.Command {
	var verifyOnly bool
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild and verify every derived index offline",
		Long: "Rebuilds the orderbook and active-state indexes from their source " +
			"buckets and verifies the result. The daemon must not be running.",
		RunE: func(*cobra.Command, []string) error {
			return reindex(verifyOnly)
		},
	}
	cmd.Flags().BoolVar(&verifyOnly, "verify-only", false, "only check the indexes against their sources")
	return cmd
}

// reindex touches neither the relayer nor the engines.
func reindex(verifyOnly bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.openBooks(nil); err != nil {
		return err
	}
	for _, b := range a.books {
		if !verifyOnly {
			if err := b.Rebuild(); err != nil {
				return err
			}
		}
		if err := b.Verify(); err != nil {
			return err
		}
		a.log.Info("orderbook indexes verified", logger.NewField("market", b.Market().Name))
	}

	books := make([]worker.Book, 0, len(a.books))
	for _, b := range a.books {
		books = append(books, b)
	}
	w := worker.New(worker.Config{
		DB:      a.db,
		Books:   books,
		Engines: engine.NewRegistry(),
		Logger:  a.log,
		Metrics: a.metrics,
	})
	defer w.Close()
	for _, idx := range w.Indexes() {
		if !verifyOnly {
			if err := idx.EnsureIndex(); err != nil {
				return err
			}
		}
		if err := idx.Verify(); err != nil {
			return err
		}
		a.log.Info("index verified", logger.NewField("index", idx.Name()))
	}
	return nil
}
