package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/fundsync/internal/keys"
	fsync "github.com/Mschirtzinger/fundsync/internal/sync"
	"github.com/Mschirtzinger/fundsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Synchronize this device with the cloud",
	Long: `Run a full sync pass between this device and your account.

  push   upload every local value, replacing the cloud copy
  pull   download every cloud value, replacing the local copy
  merge  fold local and cloud together without discarding either side

Running 'fundsync sync' without a subcommand performs a merge.`,
	Run: func(cmd *cobra.Command, args []string) {
		runMerge(cmd)
	},
}

var syncPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload local values to the cloud",
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.Close()
		a.requireRemote()

		fmt.Printf("%s Pushing to cloud...\n", ui.RenderAccent("⬆"))
		start := time.Now()
		ok, err := a.orch.SyncToCloud(cmd.Context())
		exitOnPassError(a, err)

		if ok {
			fmt.Printf("%s Push complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		} else {
			fmt.Printf("%s Push incomplete: some keys have no local value or failed to upload\n", ui.RenderWarn("⚠"))
		}
	},
}

var syncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Download cloud values to this device",
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.Close()
		a.requireRemote()

		fmt.Printf("%s Pulling from cloud...\n", ui.RenderAccent("⬇"))
		start := time.Now()
		ok, err := a.orch.SyncFromCloud(cmd.Context())
		exitOnPassError(a, err)

		if ok {
			fmt.Printf("%s Pull complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		} else {
			fmt.Printf("%s Nothing to pull: your account has no cloud data yet\n", ui.RenderWarn("⚠"))
		}
	},
}

var syncMergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge local and cloud values",
	Run: func(cmd *cobra.Command, args []string) {
		runMerge(cmd)
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sign-in and last sync state",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("\n%s Sync Status\n\n", ui.RenderAccent("📊"))

		if cfg.RemoteClientConfig().Configured() {
			fmt.Printf("%s %s\n", ui.RenderKey("Cloud"), cfg.Remote.URL)
		} else {
			fmt.Printf("%s %s\n", ui.RenderKey("Cloud"), ui.RenderWarn("not configured (local only)"))
		}

		session, err := loadSession()
		switch {
		case err != nil:
			fmt.Printf("%s %s\n", ui.RenderKey("Account"), ui.RenderMuted("signed out"))
		case !session.Valid(time.Now()):
			fmt.Printf("%s %s\n", ui.RenderKey("Account"), ui.RenderWarn(session.UserID+" (session expired, run 'fundsync login')"))
		default:
			who := session.UserID
			if session.Email != "" {
				who = session.Email
			}
			fmt.Printf("%s %s\n", ui.RenderKey("Account"), who)
		}

		st, ok := loadLastStatus(lastStatusPath())
		switch {
		case !ok || st.LastSyncTime == nil:
			fmt.Printf("%s %s\n", ui.RenderKey("Last sync"), ui.RenderMuted("never"))
		default:
			fmt.Printf("%s synced %s\n", ui.RenderKey("Last sync"), ui.RelativeTime(*st.LastSyncTime, time.Now()))
		}
		if ok && st.Error != "" {
			fmt.Printf("%s %s\n", ui.RenderKey("Last error"), ui.RenderFail(st.Error))
		} else if ok && st.Success != nil && !*st.Success {
			fmt.Printf("%s %s\n", ui.RenderKey("Last result"), ui.RenderWarn("partial"))
		}
		fmt.Println()
	},
}

func runMerge(cmd *cobra.Command) {
	a := openApp()
	defer a.Close()
	a.requireRemote()

	fmt.Printf("%s Merging local and cloud data...\n", ui.RenderAccent("🔄"))
	report, err := a.orch.SmartMerge(cmd.Context())
	exitOnPassError(a, err)
	printReport(report)
}

func printReport(r fsync.Report) {
	line := func(label string, ks []keys.Key) {
		if len(ks) == 0 {
			return
		}
		names := make([]string, len(ks))
		for i, k := range ks {
			names[i] = string(k)
		}
		fmt.Printf("   %s %s\n", ui.RenderKey(label), strings.Join(names, ", "))
	}

	if r.OK() {
		fmt.Printf("%s Merge complete\n", ui.RenderPass("✓"))
	} else {
		fmt.Printf("%s Merge incomplete\n", ui.RenderWarn("⚠"))
	}
	line("Uploaded", r.Pushed)
	line("Downloaded", r.Pulled)
	line("Merged", r.Merged)
	line("Failed", r.Failed)
}

// exitOnPassError reports guard and pass failures and exits.
func exitOnPassError(a *app, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, fsync.ErrUnauthenticated):
		fmt.Fprintf(os.Stderr, "Error: not signed in. Run 'fundsync login' first\n")
	case errors.Is(err, fsync.ErrBusy):
		fmt.Fprintf(os.Stderr, "Error: another sync is already running\n")
	default:
		fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
	}
	a.Close()
	os.Exit(1)
}

func init() {
	syncCmd.AddCommand(syncPushCmd)
	syncCmd.AddCommand(syncPullCmd)
	syncCmd.AddCommand(syncMergeCmd)
	syncCmd.AddCommand(syncStatusCmd)
	rootCmd.AddCommand(syncCmd)
}
