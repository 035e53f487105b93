package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/paulgibert/chaingpt/internal/domain"
)

func newInvokeCommand() *cobra.Command {
	var addr string
	var argsJSON string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "invoke TOOL",
		Short: "Invoke a tool (file_qa, file_search, run_script) and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(argsJSON)) {
				return fmt.Errorf("--args must be valid JSON")
			}
			client := &http.Client{Timeout: timeout}
			resp, err := invokeTool(client, addr, domain.ToolName(args[0]), json.RawMessage(argsJSON))
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(resp, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if resp.Status != "succeeded" {
				return fmt.Errorf("tool call %s %s", resp.ToolCallID, resp.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "service address")
	cmd.Flags().StringVar(&argsJSON, "args", "{}", "tool arguments as a JSON object")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "request timeout")
	return cmd
}

// invokeTool calls the generic invoke endpoint.
func invokeTool(client *http.Client, addr string, tool domain.ToolName, args json.RawMessage) (*domain.ToolInvokeResponse, error) {
	body, err := json.Marshal(domain.ToolInvokeRequest{Args: args})
	if err != nil {
		return nil, err
	}
	endpoint := strings.TrimSuffix(addr, "/") + "/v1/tools/" + string(tool) + "/invoke"
	resp, err := client.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp domain.ErrorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
			return nil, fmt.Errorf("%s (%s)", errResp.Error, errResp.Code)
		}
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out domain.ToolInvokeResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &out, nil
}
