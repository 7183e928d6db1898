package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/listing-ingest/internal/pipeline"
)

var (
	ingestOutput string
	ingestRecord bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion pass against the configured source",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, "ingest")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		summary, runErr := pipeline.FromConfig(cfg, st).Run(ctx)

		if ingestRecord {
			// The run history is best-effort; a store that aborted the run
			// will likely refuse this write too.
			if err := st.SaveRun(ctx, summary); err != nil {
				zap.L().Warn("ingest: save run summary", zap.String("run_id", summary.RunID), zap.Error(err))
			}
		}

		if ingestOutput == "text" {
			formatSummary(os.Stdout, summary)
		} else if err := writeEncoded(os.Stdout, ingestOutput, summary); err != nil {
			return err
		}

		if runErr != nil {
			return eris.Wrap(runErr, "ingest")
		}
		if !summary.Success {
			return eris.New("ingest: run did not succeed")
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestOutput, "output", "text", "output format: text, json or yaml")
	ingestCmd.Flags().BoolVar(&ingestRecord, "record", true, "save the run summary to the store")
	rootCmd.AddCommand(ingestCmd)
}
