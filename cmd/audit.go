package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/listing-ingest/internal/audit"
	"github.com/sells-group/listing-ingest/internal/config"
	"github.com/sells-group/listing-ingest/internal/store"
)

var (
	auditRepair bool
	auditOutput string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Classify stored text columns and optionally repair them",
	Long:  "Scans the configured content and slug columns, reports the detected format of every value, and with --repair rewrites escaped HTML, markdown and malformed slugs in place.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, "audit")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		report, err := newAuditor(cfg, st).Run(ctx, auditRepair)
		if err != nil {
			return eris.Wrap(err, "audit")
		}

		if auditOutput == "table" {
			formatAuditTable(os.Stdout, report)
			return nil
		}
		return writeEncoded(os.Stdout, auditOutput, report)
	},
}

func newAuditor(c *config.Config, st store.Store) *audit.Auditor {
	return audit.New(st, audit.Options{
		Columns:       c.Audit.Columns(),
		BatchSize:     c.Audit.BatchSize,
		MaxRows:       c.Audit.MaxRows,
		MaxSamples:    c.Audit.MaxSamples,
		MaxSlugLength: c.Normalize.MaxSlugLength,
	})
}

func init() {
	auditCmd.Flags().BoolVar(&auditRepair, "repair", false, "write repaired values back to the store")
	auditCmd.Flags().StringVar(&auditOutput, "output", "table", "output format: table, json or yaml")
	rootCmd.AddCommand(auditCmd)
}
