package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jrsteele09/go-chat-sync/channel"
	"github.com/jrsteele09/go-chat-sync/identity"
	"github.com/jrsteele09/go-chat-sync/identity/gotrue"
	"github.com/jrsteele09/go-chat-sync/internal/config"
	"github.com/jrsteele09/go-chat-sync/server"
	"github.com/jrsteele09/go-chat-sync/session"
	"github.com/jrsteele09/go-chat-sync/syncmsg"
	"github.com/jrsteele09/go-chat-sync/users"
	"github.com/spf13/cobra"
)

var signinPassword string

var signinCmd = &cobra.Command{
	Use:   "signin <email>",
	Short: "Sign in and share the session with every connected tab",
	Long: `Sign in with the identity provider and hand the session to the extension
background, which relays it to every open tab and view.

The provider is called directly when AUTH_URL or SUPABASE_URL is set, otherwise
through the chat server. The password is read from --password or SYNCCLI_PASSWORD.`,
	Args: cobra.ExactArgs(1),
	RunE: runSignin,
}

func init() {
	signinCmd.Flags().StringVarP(&signinPassword, "password", "p", "", "Account password")
}

func runSignin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	creds := users.Credentials{Email: args[0], Password: signinPassword}
	if creds.Password == "" {
		creds.Password = os.Getenv("SYNCCLI_PASSWORD")
	}
	creds = creds.Normalized()
	if err := creds.Validate(); err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	s, err := signIn(reqCtx, creds)
	if err != nil {
		var rejected *identity.Error
		if errors.As(err, &rejected) {
			return fmt.Errorf("sign in failed: %s", rejected.Message)
		}
		return fmt.Errorf("sign in failed: %w", err)
	}

	if err := saveCredentials(ctx, s); err != nil {
		return err
	}
	client, err := connect(ctx, channel.KindView, s)
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := client.Send(reqCtx, channel.ToBackground(), syncmsg.Message{
		Type:    syncmsg.ContentAuthStateUpdate,
		Payload: s,
		Origin:  peerID,
	})
	if err != nil {
		return err
	}
	if resp != nil && !resp.OK {
		return fmt.Errorf("background refused the session: %s", resp.Error)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Signed in as", s.User.Email)
	return nil
}

func signIn(ctx context.Context, creds users.Credentials) (*session.Session, error) {
	cfg := config.New()
	if url := cfg.GetProviderURL(); url != "" {
		provider := gotrue.New(gotrue.Options{URL: url, AnonKey: cfg.GetProviderAnonKey(), Logger: logger})
		return provider.SignInWithPassword(ctx, creds.Email, creds.Password)
	}

	var s session.Session
	resp, err := newAPI(ctx, nil).R().
		SetContext(ctx).
		SetBody(creds).
		SetResult(&s).
		SetError(&apiError{}).
		Post(server.RouteAuthSignIn)
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &s, nil
}
