package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"ezweb_signin/internal/scheduler"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [--config <path>]",
	Short: "Runs the check-in once for every configured account and exits.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.engine.RunBatch(cmd.Context())
		if err != nil {
			a.hub.Chat(cmd.Context(), scheduler.LabelManual, fmt.Sprintf("%s: %v", scheduler.LabelManual, err))
			a.hub.Mail(cmd.Context(), scheduler.LabelManual, fmt.Sprintf("%s: %v", scheduler.LabelManual, err), "")
			return err
		}
		for _, acc := range report.Accounts {
			status := "失败"
			if acc.Outcome.Succeeded {
				status = "成功"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t尝试 %d 次\n", acc.Username, status, acc.Outcome.AttemptsUsed)
		}
		return nil
	},
}
