package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/zen-systems/agentgate/pkg/jobs"
	"github.com/zen-systems/agentgate/pkg/orchestrator"
	"github.com/zen-systems/agentgate/pkg/schema"
)

func batchCmd() *cobra.Command {
	var kind string
	var instructions string
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "batch [documents.json]",
		Short: "Process a document batch and print the results",
		Long: fmt.Sprintf(`Submits the documents in the file and waits for the batch to finish.
The file holds a JSON array of strings or {"title", "content"} objects.
Processing kinds: %s.`, kindList()),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := readDocuments(args[0])
			if err != nil {
				return err
			}

			ctx, stop := exitContext(cmd.Context())
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			orch, err := orchestrator.New(ctx, cfg, orchestrator.WithLogger(logger))
			if err != nil {
				return err
			}
			defer orch.Close()

			sub, err := orch.SubmitBatch(ctx, schema.BatchSubmitRequest{
				Documents:      docs,
				ProcessingKind: kind,
				Instructions:   instructions,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%s submitted %s (%d documents)\n", color.CyanString("→"), sub.BatchID, sub.DocumentCount)

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				st, err := orch.BatchStatus(ctx, sub.BatchID)
				if err != nil {
					return err
				}
				switch st.Status {
				case string(jobs.StatusCompleted):
					res, err := orch.BatchResults(ctx, sub.BatchID)
					if err != nil {
						return err
					}
					return printResults(res)
				case string(jobs.StatusFailed):
					return fmt.Errorf("batch %s failed: %s", sub.BatchID, st.Error)
				}
				fmt.Fprintf(os.Stderr, "  %.0f%% (%d done, %d failed)\n", st.Progress, st.CompletedRequests, st.FailedRequests)

				select {
				case <-ctx.Done():
					if _, err := orch.CancelBatch(cmd.Context(), sub.BatchID); err != nil {
						logger.Warn("cancel failed", "batch_id", sub.BatchID, "error", err)
					}
					return ctx.Err()
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().StringVar(&kind, "kind", string(jobs.KindSummarize), "processing kind")
	cmd.Flags().StringVar(&instructions, "instructions", "", "instructions (required for custom)")
	cmd.Flags().DurationVar(&interval, "poll", time.Second, "status poll interval")
	return cmd
}

func kindList() string {
	kinds := jobs.ProcessingKinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

func readDocuments(path string) ([]schema.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var docs []schema.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return docs, nil
}

func printResults(res schema.BatchResultsResponse) error {
	for _, r := range res.Results {
		title := r.Title
		if title == "" {
			title = r.CustomID
		}
		if r.Status != schema.DocumentSucceeded {
			fmt.Printf("%s %s\n  %s\n\n", color.RedString("✗"), title, r.Error)
			continue
		}
		fmt.Printf("%s %s\n%s\n\n", color.GreenString("✓"), title, r.Output)
	}
	return nil
}
