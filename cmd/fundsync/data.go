package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/fundsync/internal/keys"
	"github.com/Mschirtzinger/fundsync/internal/ui"
)

var getCmd = &cobra.Command{
	Use:     "get <key>",
	GroupID: "data",
	Short:   "Print the value stored under a key",
	Long: `Print the value stored under a key as JSON.

When signed in, the cloud copy is fetched and merged into the local value first,
so the output reflects both this device and your account.

Valid keys: ` + keys.Names(),
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		key := mustParseKey(args[0])

		a := openApp()
		defer a.Close()

		value := a.orch.Load(cmd.Context(), key, key.Default())
		printJSON(value)
	},
}

var setCmd = &cobra.Command{
	Use:     "set <key> <json>",
	GroupID: "data",
	Short:   "Replace the value stored under a key",
	Long: `Replace the value stored under a key.

The value is parsed as JSON; anything that is not valid JSON is stored as a
string. The write lands locally first and is pushed to the cloud when signed in.

Examples:
  fundsync set viewMode list
  fundsync set favorites '["000001","110022"]'
  fundsync set refreshMs 60000`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		key := mustParseKey(args[0])

		var value any
		if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
			value = args[1]
		}
		if err := validateValue(key, value); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		a := openApp()
		defer a.Close()

		saveOrExit(cmd.Context(), a, key, value)
		fmt.Printf("%s Saved %s\n", ui.RenderPass("✓"), key)
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "data",
	Short:   "List keys stored on this device",
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.Close()

		entries, err := a.store.Entries()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing keys: %v\n", err)
			os.Exit(1)
		}
		if len(entries) == 0 {
			fmt.Printf("%s Nothing stored yet\n", ui.RenderWarn("⚠"))
			return
		}

		now := time.Now()
		fmt.Printf("\n%s Local data (%s)\n\n", ui.RenderAccent("📦"), a.store.Path())
		for _, e := range entries {
			fmt.Printf("%s %-10s %s\n", ui.RenderKey(string(e.Key)), ui.FormatSize(int64(e.Size)),
				ui.RenderMuted("updated "+ui.RelativeTime(e.UpdatedAt, now)))
		}
		fmt.Println()
	},
}

var favoriteCmd = &cobra.Command{
	Use:     "favorite <code>",
	GroupID: "data",
	Short:   "Toggle a fund in favorites",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		code := args[0]

		a := openApp()
		defer a.Close()

		before := keys.CodeSet(a.orch.Load(cmd.Context(), keys.Favorites, []any{}))
		after := keys.Toggle(before, code)
		saveOrExit(cmd.Context(), a, keys.Favorites, after)

		if len(after) > len(before) {
			fmt.Printf("%s Added %s to favorites\n", ui.RenderPass("★"), code)
		} else {
			fmt.Printf("%s Removed %s from favorites\n", ui.RenderMuted("☆"), code)
		}
	},
}

var viewCmd = &cobra.Command{
	Use:     "view <card|list>",
	GroupID: "data",
	Short:   "Set the fund list layout",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		view, err := keys.ParseView(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		a := openApp()
		defer a.Close()

		saveOrExit(cmd.Context(), a, keys.ViewMode, string(view))
		fmt.Printf("%s View mode set to %s\n", ui.RenderPass("✓"), view)
	},
}

var refreshCmd = &cobra.Command{
	Use:     "refresh [ms]",
	GroupID: "data",
	Short:   "Show or set the quote refresh interval",
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.Close()

		if len(args) == 0 {
			ms := keys.RefreshInterval(a.orch.Load(cmd.Context(), keys.RefreshMs, keys.DefaultRefreshMs))
			fmt.Printf("Refresh interval: %s\n", time.Duration(ms)*time.Millisecond)
			return
		}

		ms, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: refresh interval must be a number of milliseconds\n")
			os.Exit(1)
		}
		if err := keys.ValidateRefreshMs(ms); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		saveOrExit(cmd.Context(), a, keys.RefreshMs, ms)
		fmt.Printf("%s Refresh interval set to %s\n", ui.RenderPass("✓"), time.Duration(ms)*time.Millisecond)
	},
}

var positionCmd = &cobra.Command{
	Use:     "position <code> <share> <cost>",
	GroupID: "data",
	Short:   "Record a holding (shares and unit cost) for a fund",
	Args:    cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		code := args[0]
		share, err := decimal.NewFromString(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid share %q: %v\n", args[1], err)
			os.Exit(1)
		}
		cost, err := decimal.NewFromString(args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid cost %q: %v\n", args[2], err)
			os.Exit(1)
		}
		pos := keys.Position{Share: share, Cost: cost}
		if err := pos.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		a := openApp()
		defer a.Close()

		positions, err := keys.Decode[map[string]keys.Position](a.orch.Load(cmd.Context(), keys.Positions, map[string]any{}))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading positions: %v\n", err)
			os.Exit(1)
		}
		if positions == nil {
			positions = make(map[string]keys.Position)
		}
		positions[code] = pos

		saveTypedOrExit(cmd.Context(), a, keys.Positions, positions)
		fmt.Printf("%s %s: %s shares at %s (cost basis %s)\n",
			ui.RenderPass("✓"), code, share, cost, pos.Amount().StringFixed(2))
	},
}

// validateValue applies the per-key rules before a raw set.
func validateValue(key keys.Key, value any) error {
	switch key {
	case keys.ViewMode:
		s, _ := value.(string)
		_, err := keys.ParseView(s)
		return err
	case keys.RefreshMs:
		n, ok := value.(float64)
		if !ok {
			return fmt.Errorf("refreshMs must be a number")
		}
		return keys.ValidateRefreshMs(int(n))
	case keys.Groups:
		groups, err := keys.Decode[[]keys.Group](value)
		if err != nil {
			return err
		}
		for _, g := range groups {
			if err := g.Validate(); err != nil {
				return err
			}
		}
	case keys.Funds:
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("funds must be a JSON array")
		}
	case keys.Favorites, keys.CollapsedCodes:
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("%s must be a JSON array of codes", key)
		}
	case keys.Positions:
		positions, err := keys.Decode[map[string]keys.Position](value)
		if err != nil {
			return err
		}
		for code, p := range positions {
			if err := p.Validate(); err != nil {
				return fmt.Errorf("%s: %w", code, err)
			}
		}
	}
	return nil
}

func mustParseKey(name string) keys.Key {
	key, err := keys.Parse(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return key
}

func saveOrExit(ctx context.Context, a *app, key keys.Key, value any) {
	if !a.orch.Save(ctx, key, value) {
		fmt.Fprintf(os.Stderr, "Error: failed to save %s locally\n", key)
		a.Close()
		os.Exit(1)
	}
}

// saveTypedOrExit converts a typed value into the stored JSON shape first.
func saveTypedOrExit(ctx context.Context, a *app, key keys.Key, value any) {
	generic, err := keys.Encode(value)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		a.Close()
		os.Exit(1)
	}
	saveOrExit(ctx, a, key, generic)
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding value: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

func init() {
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(favoriteCmd)
	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(positionCmd)
}
