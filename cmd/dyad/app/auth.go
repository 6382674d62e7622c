package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/dyadsync/dyad/internal/google"
	"github.com/dyadsync/dyad/pkg/errors"
)

// NewAuthCommand creates the auth command.
func (a *App) NewAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize account access",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "login [account]",
		Short: "Run the OAuth flow for one account (default: both)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names := []string{a.config.AccountA, a.config.AccountB}
			if len(args) == 1 {
				names = []string{args[0]}
			}
			for _, name := range names {
				if err := a.authorize(cmd, name); err != nil {
					return err
				}
				cmd.Printf("Authorized %s (token stored at %s)\n", name, google.TokenPath(name))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show which accounts have stored tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range []string{a.config.AccountA, a.config.AccountB} {
				if _, err := google.LoadToken(name); err != nil {
					cmd.Printf("%s: not authorized\n", name)
					continue
				}
				cmd.Printf("%s: authorized (%s)\n", name, google.TokenPath(name))
			}
			return nil
		},
	})

	return cmd
}

// authorize runs the loopback OAuth flow: open the consent URL, catch
// the redirect, exchange the code, store the token.
func (a *App) authorize(cmd *cobra.Command, accountID string) error {
	ctx := cmd.Context()

	config, err := google.OAuthConfig()
	if err != nil {
		return err
	}

	state := uuid.NewString()
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			errCh <- fmt.Errorf("oauth state mismatch for %s", accountID)
			return
		}
		if errMsg := r.URL.Query().Get("error"); errMsg != "" {
			http.Error(w, errMsg, http.StatusBadRequest)
			errCh <- fmt.Errorf("oauth consent denied for %s: %s", accountID, errMsg)
			return
		}
		fmt.Fprintln(w, "Authorized. You can close this tab.")
		codeCh <- r.URL.Query().Get("code")
	})

	server := &http.Server{Addr: ":8807", Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	url := config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	cmd.Printf("Authorize the %s account by visiting:\n\n  %s\n\n", accountID, url)
	cmd.Println("Waiting for the browser redirect...")

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}

	token, err := config.Exchange(ctx, code)
	if err != nil {
		return &errors.AuthenticationError{
			Account: accountID,
			Method:  "oauth",
			Message: "code exchange failed",
			Err:     err,
		}
	}
	return google.SaveToken(accountID, token)
}
