package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(probeCmd)
}

// probe 只拉取一张验证码并交给打码平台识别，用来检查站点和打码 token 是否可用，不会登录。
var probeCmd = &cobra.Command{
	Use:   "probe [--config <path>]",
	Short: "Fetches one captcha and recognizes it, to verify portal and OCR connectivity.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		challenge, err := a.portal.FetchCaptcha(cmd.Context())
		if err != nil {
			return fmt.Errorf("fetch captcha: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "captcha id: %s (%d bytes base64)\n", challenge.ID, len(challenge.Image))

		answer, err := a.solver.Recognize(cmd.Context(), a.cfg.OCR.Token, challenge.Image)
		if err != nil {
			return fmt.Errorf("recognize captcha: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "answer: %s\n", answer)
		return nil
	},
}
