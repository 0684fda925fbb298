package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/trueup-cli/internal/gate"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.json>",
	Short: "Submit extraction candidates as pending mapping suggestions",
	Long:  "Reads a JSON array of extraction candidates and creates a Pending suggestion for each. Nothing here is verified; every entry waits for an officer decision.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}

		var subs []gate.Submission
		if err := json.Unmarshal(raw, &subs); err != nil {
			return eris.Wrapf(err, "parse %s", args[0])
		}

		created := 0
		for i, sub := range subs {
			sg, err := env.gate.Submit(ctx, sub)
			if err != nil {
				zap.L().Error("ingest: submission failed",
					zap.Int("index", i),
					zap.String("source_field", sub.SourceField),
					zap.Error(err),
				)
				continue
			}
			created++
			fmt.Printf("%s  %-10s %s\n", sg.ID, sg.Scope, sg.SourceField)
		}

		fmt.Printf("created %d of %d suggestions\n", created, len(subs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
