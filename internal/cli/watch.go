package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/paulgibert/chaingpt/internal/domain"
)

func newWatchCommand() *cobra.Command {
	var addr string
	var afterTs int64

	cmd := &cobra.Command{
		Use:   "watch SESSION_ID",
		Short: "Stream tool-call events of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wsURL, err := eventsURL(addr, args[0], afterTs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Connecting to %s...\n", wsURL)

			conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
			if err != nil {
				return fmt.Errorf("dial: %w", err)
			}
			defer conn.Close()

			interrupt := make(chan os.Signal, 1)
			signal.Notify(interrupt, os.Interrupt)
			defer signal.Stop(interrupt)

			done := make(chan error, 1)
			go func() { done <- printEvents(conn, cmd.OutOrStdout()) }()

			select {
			case err := <-done:
				return err
			case <-interrupt:
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "service address")
	cmd.Flags().Int64Var(&afterTs, "after-ts", 0, "replay stored events newer than this unix millisecond timestamp")
	return cmd
}

// eventsURL builds the WebSocket URL of a session's event stream.
func eventsURL(addr, sessionID string, afterTs int64) (string, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("invalid addr: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid addr scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v1/sessions/" + url.PathEscape(sessionID) + "/events"
	q := url.Values{}
	if afterTs > 0 {
		q.Set("after_ts", fmt.Sprint(afterTs))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// printEvents writes one line per event until the stream closes.
func printEvents(conn *websocket.Conn, out io.Writer) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var event domain.Event
		if err := json.Unmarshal(data, &event); err != nil {
			fmt.Fprintf(out, "unparsable event: %s\n", data)
			continue
		}
		fmt.Fprintln(out, formatEvent(event))
	}
}

func formatEvent(e domain.Event) string {
	ts := time.UnixMilli(e.Ts).Format("15:04:05.000")
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-17s", ts, e.Type)
	if e.ToolCallID != "" {
		fmt.Fprintf(&b, " %s %s", e.ToolName, e.ToolCallID)
	}
	if e.Status != "" {
		fmt.Fprintf(&b, " [%s]", e.Status)
	}
	if len(e.Payload) > 0 {
		fmt.Fprintf(&b, " %s", e.Payload)
	}
	return b.String()
}
