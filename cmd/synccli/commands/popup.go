package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/jrsteele09/go-chat-sync/channel"
	"github.com/jrsteele09/go-chat-sync/extension"
	"github.com/jrsteele09/go-chat-sync/session"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show who is signed in",
	RunE: func(cmd *cobra.Command, args []string) error {
		err := withPopup(cmd.Context(), func(ctx context.Context, popup *extension.Popup) error {
			fmt.Fprintln(cmd.OutOrStdout(), popup.Status())
			return nil
		})
		if errors.Is(err, errNotSignedIn) {
			fmt.Fprintln(cmd.OutOrStdout(), extension.Render(nil))
			return nil
		}
		return err
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out the web app, the extension and every open tab",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPopup(cmd.Context(), func(ctx context.Context, popup *extension.Popup) error {
			reqCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := popup.Logout(reqCtx); err != nil {
				return err
			}
			if err := saveCredentials(ctx, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the sign-in status every time the shared session changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		stored, err := loadCredentials(ctx)
		if err != nil {
			return err
		}
		client, err := connect(ctx, channel.KindView, stored)
		if err != nil {
			return err
		}
		defer client.Close()

		popup := extension.NewPopup(client, logger)
		defer popup.Close()
		popup.OnRender(func(status string) {
			fmt.Fprintln(cmd.OutOrStdout(), status)
		})

		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := popup.Open(reqCtx); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	},
}

// withPopup opens a popup view against the background for the duration of fn. The
// stored credentials follow the background when it holds newer tokens for the same user.
func withPopup(ctx context.Context, fn func(context.Context, *extension.Popup) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	stored, err := loadCredentials(ctx)
	if err != nil {
		return err
	}
	client, err := connect(ctx, channel.KindView, stored)
	if err != nil {
		return err
	}
	defer client.Close()

	popup := extension.NewPopup(client, logger)
	defer popup.Close()

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := popup.Open(reqCtx); err != nil {
		return err
	}
	if current := popup.Session(); current != nil && current.User.ID == stored.User.ID && !session.SameTokens(current, stored) {
		if err := saveCredentials(ctx, current); err != nil {
			logger.Warn().Err(err).Msg("failed to store refreshed session")
		}
	}
	return fn(ctx, popup)
}
