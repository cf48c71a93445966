package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/fundsync/internal/auth"
	fsync "github.com/Mschirtzinger/fundsync/internal/sync"
	"github.com/Mschirtzinger/fundsync/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "sync",
	Short:   "Sign in with an access token and merge this device into your account",
	Long: `Sign in with an access token issued by your account's auth provider.

The token is stored in the data directory with owner-only permissions. Right
after signing in, this device's local data is merged with the cloud copy so
nothing edited offline is lost.

Pass --token to skip the interactive prompt.`,
	Run: func(cmd *cobra.Command, args []string) {
		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			if err := promptToken(&token); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		session, err := auth.FromToken(strings.TrimSpace(token))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if !session.Valid(time.Now()) {
			fmt.Fprintf(os.Stderr, "Error: access token expired at %s\n", session.ExpiresAt.Local().Format(time.RFC1123))
			os.Exit(1)
		}

		if err := auth.NewFileStore(cfg.SessionPath()).Save(session); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving session: %v\n", err)
			os.Exit(1)
		}

		who := session.UserID
		if session.Email != "" {
			who = session.Email
		}
		fmt.Printf("%s Signed in as %s\n", ui.RenderPass("✓"), who)

		if !cfg.RemoteClientConfig().Configured() {
			fmt.Printf("%s Cloud sync is not configured; data stays on this device\n", ui.RenderWarn("⚠"))
			return
		}

		a := openApp()
		defer a.Close()

		report, err := a.orch.SmartMerge(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: merge after sign-in failed: %v\n", err)
			fmt.Fprintf(os.Stderr, "Run 'fundsync sync merge' to retry\n")
			return
		}
		printReport(report)
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "sync",
	Short:   "Upload local changes, then sign out",
	Run: func(cmd *cobra.Command, args []string) {
		store := auth.NewFileStore(cfg.SessionPath())
		if _, ok := store.Current(); !ok {
			if err := store.Clear(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%s Not signed in\n", ui.RenderMuted("•"))
			return
		}

		skipPush, _ := cmd.Flags().GetBool("no-push")
		if !skipPush && cfg.RemoteClientConfig().Configured() {
			a := openApp()
			ok, err := a.orch.SyncToCloud(cmd.Context())
			a.Close()
			switch {
			case errors.Is(err, fsync.ErrBusy):
				fmt.Fprintf(os.Stderr, "Warning: another sync is running; local changes may not be uploaded\n")
			case err != nil:
				fmt.Fprintf(os.Stderr, "Warning: final upload failed: %v\n", err)
			case ok:
				fmt.Printf("%s Uploaded local changes\n", ui.RenderPass("✓"))
			}
		}

		if err := store.Clear(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Signed out\n", ui.RenderPass("✓"))
	},
}

func promptToken(token *string) error {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Access token").
				Description("Paste the access token from your account settings").
				EchoMode(huh.EchoModePassword).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("token is required")
					}
					return nil
				}).
				Value(token),
		),
	).Run()
}

func loadSession() (auth.Session, error) {
	return auth.NewFileStore(cfg.SessionPath()).Load()
}

func init() {
	loginCmd.Flags().String("token", "", "access token (prompted for when omitted)")
	logoutCmd.Flags().Bool("no-push", false, "sign out without uploading local changes first")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}
