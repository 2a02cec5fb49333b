package commands

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/jrsteele09/go-chat-sync/session"
	"golang.org/x/oauth2"
)

type apiError struct {
	Error string `json:"error"`
}

// newAPI returns a REST client for the chat server. A present session authenticates
// every request with its access token.
func newAPI(ctx context.Context, s *session.Session) *resty.Client {
	httpClient := http.DefaultClient
	if tok := s.OAuth2Token(); tok != nil {
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))
	}
	return resty.NewWithClient(httpClient).
		SetBaseURL(strings.TrimRight(serverURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if !resp.IsError() {
		return nil
	}
	if apiErr, ok := resp.Error().(*apiError); ok && apiErr.Error != "" {
		return fmt.Errorf("%s (%d)", apiErr.Error, resp.StatusCode())
	}
	return fmt.Errorf("request failed: %s", resp.Status())
}
