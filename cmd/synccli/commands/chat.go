package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/jrsteele09/go-chat-sync/chat"
	"github.com/jrsteele09/go-chat-sync/extension"
	"github.com/jrsteele09/go-chat-sync/server"
	"github.com/jrsteele09/go-chat-sync/session"
	"github.com/spf13/cobra"
)

var (
	chatSessionID string
	chatStream    bool
)

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a chat message as the signed-in user",
	Long: `Send a chat message using the session shared by the extension.

Examples:
  synccli chat "What is a difference engine?"
  synccli chat --session 2f1c... "And who built one?"
  synccli chat --stream "Tell me a story"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatSessionID, "session", "s", "", "Chat session id (a new session is created when empty)")
	chatCmd.Flags().BoolVar(&chatStream, "stream", false, "Print the reply as it arrives")
}

func runChat(cmd *cobra.Command, args []string) error {
	var current *session.Session
	err := withPopup(cmd.Context(), func(_ context.Context, popup *extension.Popup) error {
		current = popup.Session()
		return nil
	})
	if err != nil {
		return err
	}
	if current == nil {
		return errNotSignedIn
	}

	ctx := cmd.Context()
	api := newAPI(ctx, current)

	sessionID := chatSessionID
	if sessionID == "" {
		var created chat.Session
		resp, err := api.R().SetContext(ctx).SetBody(map[string]any{}).SetResult(&created).SetError(&apiError{}).Post(server.RouteSessions)
		if err := checkResponse(resp, err); err != nil {
			return err
		}
		sessionID = created.ID
		fmt.Fprintln(cmd.ErrOrStderr(), "session:", sessionID)
	}

	body := map[string]any{
		"message":   strings.Join(args, " "),
		"sessionId": sessionID,
		"stream":    chatStream,
	}
	if chatStream {
		return streamReply(ctx, api, body, cmd.OutOrStdout())
	}

	var reply struct {
		Content string `json:"content"`
	}
	resp, err := api.R().SetContext(ctx).SetBody(body).SetResult(&reply).SetError(&apiError{}).Post(server.RouteChat)
	if err := checkResponse(resp, err); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), reply.Content)
	return nil
}

func streamReply(ctx context.Context, api *resty.Client, body map[string]any, out io.Writer) error {
	resp, err := api.R().SetContext(ctx).SetBody(body).SetDoNotParseResponse(true).Post(server.RouteChat)
	if err != nil {
		return err
	}
	raw := resp.RawBody()
	defer raw.Close()

	if resp.IsError() {
		var apiErr apiError
		if json.NewDecoder(raw).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (%d)", apiErr.Error, resp.StatusCode())
		}
		return fmt.Errorf("request failed: %s", resp.Status())
	}

	scanner := bufio.NewScanner(raw)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			break
		}
		var event struct {
			Content string `json:"content"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return err
		}
		if event.Error != "" {
			fmt.Fprintln(out)
			return fmt.Errorf("stream interrupted: %s", event.Error)
		}
		fmt.Fprint(out, event.Content)
	}
	fmt.Fprintln(out)
	return scanner.Err()
}
