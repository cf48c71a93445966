package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/fundsync/internal/keys"
	"github.com/Mschirtzinger/fundsync/internal/ui"
)

var groupCmd = &cobra.Command{
	Use:     "group",
	GroupID: "data",
	Short:   "Manage fund groups",
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.Close()

		groups := loadGroups(cmd.Context(), a)
		if len(groups) == 0 {
			fmt.Printf("%s No groups yet. Create one with 'fundsync group create <name>'\n", ui.RenderWarn("⚠"))
			return
		}
		for _, g := range groups {
			fmt.Printf("%s %s %s\n", ui.RenderKey(g.Name), ui.RenderMuted(g.ID), strings.Join(g.Codes, ", "))
		}
	},
}

var groupCreateCmd = &cobra.Command{
	Use:   "create <name> [code...]",
	Short: "Create a group, optionally with initial funds",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		g := keys.NewGroup(args[0])
		g.AddCodes(args[1:]...)
		if err := g.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		a := openApp()
		defer a.Close()

		groups := append(loadGroups(cmd.Context(), a), g)
		saveTypedOrExit(cmd.Context(), a, keys.Groups, groups)
		fmt.Printf("%s Created group %s (%s)\n", ui.RenderPass("✓"), g.Name, g.ID)
	},
}

var groupAddCmd = &cobra.Command{
	Use:   "add <group-id> <code...>",
	Short: "Add funds to a group",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		editGroup(cmd.Context(), args[0], func(g *keys.Group) string {
			n := g.AddCodes(args[1:]...)
			return fmt.Sprintf("Added %d fund(s) to %s", n, g.Name)
		})
	},
}

var groupRemoveCmd = &cobra.Command{
	Use:   "remove <group-id> <code>",
	Short: "Remove a fund from a group",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		editGroup(cmd.Context(), args[0], func(g *keys.Group) string {
			g.RemoveCode(args[1])
			return fmt.Sprintf("Removed %s from %s", args[1], g.Name)
		})
	},
}

func loadGroups(ctx context.Context, a *app) []keys.Group {
	groups, err := keys.Decode[[]keys.Group](a.orch.Load(ctx, keys.Groups, []any{}))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading groups: %v\n", err)
		a.Close()
		os.Exit(1)
	}
	return groups
}

func editGroup(ctx context.Context, id string, edit func(*keys.Group) string) {
	a := openApp()
	defer a.Close()

	groups := loadGroups(ctx, a)
	for i := range groups {
		if groups[i].ID != id {
			continue
		}
		msg := edit(&groups[i])
		saveTypedOrExit(ctx, a, keys.Groups, groups)
		fmt.Printf("%s %s\n", ui.RenderPass("✓"), msg)
		return
	}

	fmt.Fprintf(os.Stderr, "Error: no group with id %s\n", id)
	a.Close()
	os.Exit(1)
}

func init() {
	groupCmd.AddCommand(groupCreateCmd)
	groupCmd.AddCommand(groupAddCmd)
	groupCmd.AddCommand(groupRemoveCmd)
	rootCmd.AddCommand(groupCmd)
}
