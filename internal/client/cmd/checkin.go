package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

// newCheckInCmd redeems a single-use check-in token, the same path the links
// in reminder emails hit. No login needed.
func newCheckInCmd(serverURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "checkin <token>",
		Short: "Check in with a single-use token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Post(*serverURL+"/api/v1/checkin/"+args[0], "application/json", nil)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 300 {
				return fmt.Errorf("check-in failed: %s", readError(resp))
			}
			var out struct {
				Secret struct {
					Title       string `json:"title"`
					NextCheckIn string `json:"next_check_in"`
				} `json:"secret"`
				CheckInToken string `json:"check_in_token"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Checked in on %q, next deadline %s\nNext token: %s\n", out.Secret.Title, out.Secret.NextCheckIn, out.CheckInToken)
			return nil
		},
	}
}

// newSweepCmd triggers a sweep by hand, mostly for local development and
// incident follow-up. The cron token comes from the environment.
func newSweepCmd(serverURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweep (requires LASTWORD_CRON_TOKEN)",
		RunE: func(cmd *cobra.Command, args []string) error {
			token := os.Getenv("LASTWORD_CRON_TOKEN")
			if token == "" {
				return fmt.Errorf("LASTWORD_CRON_TOKEN not set")
			}
			req, err := http.NewRequest("POST", *serverURL+"/api/v1/cron/sweep", nil)
			if err != nil {
				return err
			}
			req.Header.Set("X-Cron-Token", token)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 300 {
				return fmt.Errorf("sweep failed: %s", readError(resp))
			}
			var sum struct {
				Processed int `json:"processed"`
				Sent      int `json:"sent"`
				Failed    int `json:"failed"`
				Triggered int `json:"triggered"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&sum); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "processed=%d sent=%d failed=%d triggered=%d\n", sum.Processed, sum.Sent, sum.Failed, sum.Triggered)
			return nil
		},
	}
}
