package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"statfiler/internal/filing"
	"statfiler/internal/pipeline"
)

var (
	batchStatus      string
	batchLimit       int
	batchConcurrency int
)

// fileCmd files one or more requests by id
var fileCmd = &cobra.Command{
	Use:   "file [filing-id]...",
	Short: "File the given requests",
	Long: `Runs each request through calibration, the portal and settlement.

A request that already has a tracking number is reported as a duplicate and
the portal is not touched. Requests parked for manual review are refused.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFile,
}

// batchCmd files every request in a given status
var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "File all pending requests",
	RunE:  runBatch,
}

func runFile(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	a, err := newApp(ctx, cfg, logs)
	if err != nil {
		return err
	}
	defer a.Close()

	failed := 0
	for _, id := range args {
		out, err := a.pipeline.FileEntity(ctx, id)
		if err != nil {
			logger.Warn("filing refused", zap.String("filing_id", id), zap.Error(err))
			out.Error = err.Error()
		}
		if err != nil || !out.Success {
			failed++
		}
		if err := writeOutcome(cmd.OutOrStdout(), out); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d filings did not certify", failed, len(args))
	}
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	a, err := newApp(ctx, cfg, logs)
	if err != nil {
		return err
	}
	defer a.Close()

	ids, err := a.store.ListFilingIDs(ctx, filing.Status(batchStatus), batchLimit)
	if err != nil {
		return fmt.Errorf("failed to list filings: %w", err)
	}
	if len(ids) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No %s filings\n", batchStatus)
		return nil
	}

	concurrency := batchConcurrency
	if concurrency <= 0 {
		concurrency = cfg.Server.BatchConcurrency
	}
	logger.Info("filing batch", zap.Int("count", len(ids)), zap.Int("concurrency", concurrency))

	outcomes, batchErr := a.pipeline.FileBatch(ctx, ids, concurrency)
	certified := 0
	for _, out := range outcomes {
		if out.Success {
			certified++
		}
		if err := writeOutcome(cmd.OutOrStdout(), out); err != nil {
			return err
		}
	}
	if batchErr != nil {
		return fmt.Errorf("batch interrupted after %d of %d certified: %w", certified, len(ids), batchErr)
	}
	return nil
}

func writeOutcome(w io.Writer, out pipeline.Outcome) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}
