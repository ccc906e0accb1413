package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rialto-project/cdm-server/internal/cli/output"
	"github.com/spf13/cobra"
)

var (
	statusOutput      string
	statusPidFile     string
	statusMetricsPort int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Display the current status of the cdm-server process.

This command checks the server's liveness by calling its admin status
endpoint and reports the process state and live session count.

Examples:
  # Check status (uses default settings)
  cdm-server status

  # Check status with a custom metrics/admin port
  cdm-server status --metrics-port 9091

  # Output as JSON
  cdm-server status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/cdm-server/cdm-server.pid)")
	statusCmd.Flags().IntVar(&statusMetricsPort, "metrics-port", 9090, "Metrics/admin server port")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// ServerStatus represents the server status information.
type ServerStatus struct {
	Running      bool   `json:"running" yaml:"running"`
	PID          int    `json:"pid,omitempty" yaml:"pid,omitempty"`
	Message      string `json:"message" yaml:"message"`
	Healthy      bool   `json:"healthy" yaml:"healthy"`
	LiveSessions int    `json:"live_sessions" yaml:"live_sessions"`
	Uptime       string `json:"uptime,omitempty" yaml:"uptime,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	status := ServerStatus{
		Running: false,
		Healthy: false,
		Message: "Server is not running",
	}

	pidPath := statusPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	if pidData, err := os.ReadFile(pidPath); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(pidData))); err == nil {
			if process, err := os.FindProcess(pid); err == nil {
				if err := process.Signal(syscall.Signal(0)); err == nil {
					status.Running = true
					status.PID = pid
				}
			}
		}
	}

	adminResp, err := fetchAdminStatus(statusMetricsPort)
	if err == nil {
		status.Running = true
		status.Healthy = adminResp.Status == "healthy"
		if data, ok := adminResp.Data.(map[string]interface{}); ok {
			if n, ok := data["live_sessions"].(float64); ok {
				status.LiveSessions = int(n)
			}
			if u, ok := data["uptime"].(string); ok {
				status.Uptime = u
			}
		}
		if status.Healthy {
			status.Message = "Server is running and healthy"
		} else {
			status.Message = fmt.Sprintf("Server is running but unhealthy: %s", adminResp.Error)
		}
	} else if status.Running {
		status.Message = "Server process exists but the admin status endpoint did not respond"
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, status)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, status)
	default:
		printStatusTable(status)
	}

	return nil
}

// adminResponse mirrors internal/cdmadmin.Response, duplicated here so the
// CLI does not need to import an internal server package merely to decode
// its own wire format.
type adminResponse struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

func fetchAdminStatus(port int) (adminResponse, error) {
	return fetchAdmin(http.MethodGet, fmt.Sprintf("http://localhost:%d/admin/status", port))
}

func fetchAdmin(method, url string) (adminResponse, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return adminResponse{}, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return adminResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var out adminResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return adminResponse{}, err
	}
	return out, nil
}

func printStatusTable(status ServerStatus) {
	fmt.Println()
	fmt.Println("cdm-server Status")
	fmt.Println("=================")
	fmt.Println()

	if status.Running {
		if status.Healthy {
			fmt.Printf("  Status:        \033[32m● Running\033[0m\n")
		} else {
			fmt.Printf("  Status:        \033[33m● Running (unhealthy)\033[0m\n")
		}
		if status.PID != 0 {
			fmt.Printf("  PID:           %d\n", status.PID)
		}
		if status.Uptime != "" {
			fmt.Printf("  Uptime:        %s\n", status.Uptime)
		}
		fmt.Printf("  Live sessions: %d\n", status.LiveSessions)
	} else {
		fmt.Printf("  Status:        \033[31m○ Stopped\033[0m\n")
	}

	fmt.Println()
	fmt.Printf("  %s\n", status.Message)
	fmt.Println()
}
