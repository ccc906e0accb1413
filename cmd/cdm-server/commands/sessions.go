package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rialto-project/cdm-server/internal/cli/output"
	"github.com/rialto-project/cdm-server/internal/cli/prompt"
)

var (
	sessionsOutput      string
	sessionsMetricsPort int
	sessionsCloseForce  bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage live key sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every live key session",
	RunE:  runSessionsList,
}

var sessionsCloseCmd = &cobra.Command{
	Use:   "close [key-session-id]",
	Short: "Close a live key session",
	Long: `Close a live key session.

If no key session id is given, the live sessions are listed and you are
prompted to pick one.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSessionsClose,
}

func init() {
	sessionsCmd.PersistentFlags().IntVar(&sessionsMetricsPort, "metrics-port", 9090, "Metrics/admin server port")
	sessionsListCmd.Flags().StringVarP(&sessionsOutput, "output", "o", "table", "Output format (table|json|yaml)")
	sessionsCloseCmd.Flags().BoolVar(&sessionsCloseForce, "force", false, "Skip the confirmation prompt")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsCloseCmd)
}

// sessionData mirrors internal/cdmadmin.SessionData.
type sessionData struct {
	KeySessionId     int32  `json:"key_session_id" yaml:"key_session_id"`
	MediaKeysHandle  int32  `json:"media_keys_handle" yaml:"media_keys_handle"`
	KeySystem        string `json:"key_system" yaml:"key_system"`
	RefCounter       uint   `json:"ref_counter" yaml:"ref_counter"`
	ShouldBeClosed   bool   `json:"should_be_closed" yaml:"should_be_closed"`
	ShouldBeReleased bool   `json:"should_be_released" yaml:"should_be_released"`
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(sessionsOutput)
	if err != nil {
		return err
	}

	resp, err := fetchAdmin(http.MethodGet, fmt.Sprintf("http://localhost:%d/admin/sessions", sessionsMetricsPort))
	if err != nil {
		return fmt.Errorf("failed to reach the cdm-server admin endpoint: %w", err)
	}
	if resp.Status != "healthy" {
		return fmt.Errorf("admin endpoint reported an error: %s", resp.Error)
	}

	sessions, err := decodeSessions(resp.Data)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, sessions)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, sessions)
	default:
		return printSessionsTable(sessions)
	}
}

func runSessionsClose(cmd *cobra.Command, args []string) error {
	var id string
	if len(args) == 1 {
		id = args[0]
	} else {
		picked, err := pickSession()
		if err != nil {
			return err
		}
		id = picked
	}

	if _, err := strconv.Atoi(id); err != nil {
		return fmt.Errorf("invalid key session id %q: %w", id, err)
	}

	if !sessionsCloseForce {
		ok, err := prompt.Confirm(fmt.Sprintf("Close key session %s?", id), false)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	url := fmt.Sprintf("http://localhost:%d/admin/sessions/%s", sessionsMetricsPort, id)
	resp, err := fetchAdmin(http.MethodDelete, url)
	if err != nil {
		return fmt.Errorf("failed to reach the cdm-server admin endpoint: %w", err)
	}
	if resp.Status != "healthy" {
		return fmt.Errorf("close failed: %s", resp.Error)
	}

	fmt.Printf("Key session %s closed.\n", id)
	return nil
}

// pickSession lists every live key session and prompts the operator to
// pick one, returning its id as a string.
func pickSession() (string, error) {
	resp, err := fetchAdmin(http.MethodGet, fmt.Sprintf("http://localhost:%d/admin/sessions", sessionsMetricsPort))
	if err != nil {
		return "", fmt.Errorf("failed to reach the cdm-server admin endpoint: %w", err)
	}
	if resp.Status != "healthy" {
		return "", fmt.Errorf("admin endpoint reported an error: %s", resp.Error)
	}

	sessions, err := decodeSessions(resp.Data)
	if err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "", fmt.Errorf("no live key sessions to close")
	}

	options := make([]prompt.SelectOption, len(sessions))
	for i, s := range sessions {
		options[i] = prompt.SelectOption{
			Label:       fmt.Sprintf("%d (%s)", s.KeySessionId, s.KeySystem),
			Value:       strconv.Itoa(int(s.KeySessionId)),
			Description: fmt.Sprintf("media keys handle %d, %d reference(s)", s.MediaKeysHandle, s.RefCounter),
		}
	}

	return prompt.Select("Select a key session to close", options)
}

// decodeSessions re-marshals the admin response's loosely-typed Data back
// into []sessionData: decoding the envelope into adminResponse leaves
// Data as []interface{}, since its static type is interface{}.
func decodeSessions(data interface{}) ([]sessionData, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var sessions []sessionData
	if err := json.Unmarshal(raw, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func printSessionsTable(sessions []sessionData) error {
	table := output.NewTableData("KEY SESSION ID", "MEDIA KEYS HANDLE", "KEY SYSTEM", "REFS", "CLOSING", "RELEASING")
	for _, s := range sessions {
		table.AddRow(
			strconv.Itoa(int(s.KeySessionId)),
			strconv.Itoa(int(s.MediaKeysHandle)),
			s.KeySystem,
			strconv.FormatUint(uint64(s.RefCounter), 10),
			strconv.FormatBool(s.ShouldBeClosed),
			strconv.FormatBool(s.ShouldBeReleased),
		)
	}
	if len(sessions) == 0 {
		fmt.Println("No live key sessions.")
		return nil
	}
	return output.PrintTable(os.Stdout, table)
}
