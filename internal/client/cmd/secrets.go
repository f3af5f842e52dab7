package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type secretsClient struct {
	serverURL *string
}

func newSecretsCmd(serverURL *string) *cobra.Command {
	s := &secretsClient{serverURL: serverURL}
	cmd := &cobra.Command{Use: "secrets", Short: "Manage dead man's switch secrets"}

	create := &cobra.Command{Use: "create", Short: "Create a secret (payload read from stdin)", RunE: s.create}
	create.Flags().String("title", "", "Secret title")
	create.Flags().Int("interval", 30, "Check-in interval in days")
	create.Flags().StringArray("recipient", nil, "Recipient as name:email (repeatable)")
	_ = create.MarkFlagRequired("title")
	_ = create.MarkFlagRequired("recipient")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{Use: "list", Short: "List secrets", RunE: s.list})
	cmd.AddCommand(&cobra.Command{Use: "checkin <id>", Short: "Check in on a secret", Args: cobra.ExactArgs(1), RunE: s.checkin})
	cmd.AddCommand(&cobra.Command{Use: "pause <id>", Short: "Pause deadline enforcement", Args: cobra.ExactArgs(1), RunE: s.pause})
	cmd.AddCommand(&cobra.Command{Use: "resume <id>", Short: "Resume a paused secret", Args: cobra.ExactArgs(1), RunE: s.resume})
	cmd.AddCommand(&cobra.Command{Use: "reminders <id>", Short: "Show reminder history", Args: cobra.ExactArgs(1), RunE: s.reminders})
	return cmd
}

func (s *secretsClient) do(method, path string, body any) (*http.Response, error) {
	token, err := ensureAccessToken(*s.serverURL)
	if err != nil {
		return nil, err
	}
	var buf io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, *s.serverURL+path, buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return http.DefaultClient.Do(req)
}

func (s *secretsClient) create(cmd *cobra.Command, args []string) error {
	title, _ := cmd.Flags().GetString("title")
	interval, _ := cmd.Flags().GetInt("interval")
	rcpts, _ := cmd.Flags().GetStringArray("recipient")

	var recipients []map[string]string
	for _, r := range rcpts {
		name, email, ok := strings.Cut(r, ":")
		if !ok {
			return fmt.Errorf("invalid recipient %q, want name:email", r)
		}
		recipients = append(recipients, map[string]string{"name": name, "email": email, "contact_method": "email"})
	}

	payload, err := io.ReadAll(os.Stdin)
	if err != nil {
		return err
	}
	body := map[string]any{
		"title":         title,
		"payload":       string(payload),
		"recipients":    recipients,
		"interval_days": interval,
	}
	resp, err := s.do("POST", "/api/v1/secrets", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("create failed: %s", readError(resp))
	}
	var out struct {
		Secret struct {
			ID          string `json:"id"`
			NextCheckIn string `json:"next_check_in"`
		} `json:"secret"`
		CheckInToken string `json:"check_in_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s, next check-in %s\nCheck-in token: %s\n", out.Secret.ID, out.Secret.NextCheckIn, out.CheckInToken)
	return nil
}

func (s *secretsClient) list(cmd *cobra.Command, args []string) error {
	resp, err := s.do("GET", "/api/v1/secrets", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("list failed: %s", readError(resp))
	}
	var secrets []struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Status      string `json:"status"`
		NextCheckIn string `json:"next_check_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&secrets); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSTATUS\tNEXT CHECK-IN")
	for _, sec := range secrets {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", sec.ID, sec.Title, sec.Status, sec.NextCheckIn)
	}
	return tw.Flush()
}

func (s *secretsClient) checkin(cmd *cobra.Command, args []string) error {
	resp, err := s.do("POST", "/api/v1/secrets/"+args[0]+"/checkin", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("check-in failed: %s", readError(resp))
	}
	var out struct {
		Secret struct {
			NextCheckIn string `json:"next_check_in"`
		} `json:"secret"`
		CheckInToken string `json:"check_in_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Checked in, next deadline %s\nNext token: %s\n", out.Secret.NextCheckIn, out.CheckInToken)
	return nil
}

func (s *secretsClient) pause(cmd *cobra.Command, args []string) error {
	resp, err := s.do("POST", "/api/v1/secrets/"+args[0]+"/pause", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("pause failed: %s", readError(resp))
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Paused")
	return nil
}

func (s *secretsClient) resume(cmd *cobra.Command, args []string) error {
	resp, err := s.do("POST", "/api/v1/secrets/"+args[0]+"/resume", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("resume failed: %s", readError(resp))
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Resumed")
	return nil
}

func (s *secretsClient) reminders(cmd *cobra.Command, args []string) error {
	resp, err := s.do("GET", "/api/v1/secrets/"+args[0]+"/reminders", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("reminders failed: %s", readError(resp))
	}
	var reminders []struct {
		Type         string `json:"type"`
		ScheduledFor string `json:"scheduled_for"`
		Status       string `json:"status"`
		RetryCount   int    `json:"retry_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reminders); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tSCHEDULED FOR\tSTATUS\tRETRIES")
	for _, rem := range reminders {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", rem.Type, rem.ScheduledFor, rem.Status, rem.RetryCount)
	}
	return tw.Flush()
}

func readError(resp *http.Response) string {
	var out struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err == nil && out.Error != "" {
		return out.Error
	}
	return resp.Status
}
