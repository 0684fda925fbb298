package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/trueup-cli/internal/model"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect and verify the append-only audit trail",
}

var (
	auditFromSeq int64
	auditLimit   int
)

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit records in sequence order",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		records, err := env.emitter.Records(ctx, auditFromSeq, auditLimit)
		if err != nil {
			return err
		}

		for _, rec := range records {
			superseded := ""
			if rec.SupersedesID != "" {
				superseded = " supersedes=" + rec.SupersedesID
			}
			fmt.Printf("#%-6d %s  %-6s %-10s %-18s %s%s\n",
				rec.Sequence, rec.ID, rec.Result.Scope, rec.Result.FiscalYear,
				rec.Result.Head, rec.Checksum[:12], superseded)
		}
		return nil
	},
}

var auditShowCmd = &cobra.Command{
	Use:   "show <record-id>",
	Short: "Print one audit record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.store.GetAuditRecord(ctx, args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [record-id]",
	Short: "Recompute checksums; without an id, verifies the whole trail",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if len(args) == 1 {
			if err := env.emitter.Verify(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("%s: checksum ok\n", args[0])
			return nil
		}

		checked, corrupted, err := env.emitter.VerifyAll(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("verified %d records\n", checked)
		if len(corrupted) > 0 {
			for _, id := range corrupted {
				fmt.Printf("CORRUPTED: %s\n", id)
			}
			return fmt.Errorf("audit trail verification failed: %d corrupted records", len(corrupted))
		}
		return nil
	},
}

var (
	summaryScope string
	summaryYear  string
)

var auditSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Aggregate the active audit records for one petition",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		totals, err := env.emitter.Summary(ctx, model.Scope(summaryScope), summaryYear)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(totals)
	},
}

func init() {
	auditListCmd.Flags().Int64Var(&auditFromSeq, "from-seq", 0, "start after this sequence number")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "maximum records to list")

	auditSummaryCmd.Flags().StringVar(&summaryScope, "scope", "", "SBU scope (SBU-G, SBU-T, SBU-D)")
	auditSummaryCmd.Flags().StringVar(&summaryYear, "year", "", "fiscal year (e.g. 2022-23)")
	auditSummaryCmd.MarkFlagRequired("scope") //nolint:errcheck
	auditSummaryCmd.MarkFlagRequired("year")  //nolint:errcheck

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditShowCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditSummaryCmd)
	rootCmd.AddCommand(auditCmd)
}
