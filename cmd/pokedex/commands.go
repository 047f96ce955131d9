package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kalambet/pokedex/internal/api"
	"github.com/kalambet/pokedex/internal/catalog"
	"github.com/kalambet/pokedex/internal/config"
	"github.com/kalambet/pokedex/internal/storage"
)

// withApp loads config, wires the stack and runs fn against it.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, cfg, offline)
	if err != nil {
		return err
	}
	defer a.Close()

	if !offline && !a.monitor.IsConnected() {
		printWarning("Upstream unreachable, showing cached data")
	}
	return fn(ctx, a)
}

// --- list ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List one page of the catalog",
	Long: `List one page of the catalog.

Examples:
  pokedex list
  pokedex list --offset 30 --limit 10
  pokedex --offline list --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		offsetFlag, _ := cmd.Flags().GetInt("offset")
		limitFlag, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		return withApp(cmd, func(ctx context.Context, a *app) error {
			limit := limitFlag
			if limit <= 0 {
				limit = a.cfg.Catalog.PageSize
			}
			items, err := a.catalog.ListPage(ctx, offsetFlag, limit)
			if err != nil {
				return explain(err)
			}
			if asJSON {
				return writeItemsJSON(os.Stdout, items)
			}
			if len(items) == 0 {
				fmt.Println("No items on this page.")
				return nil
			}
			printItems(os.Stdout, items)
			return nil
		})
	},
}

func init() {
	listCmd.Flags().Int("offset", 0, "index of the first item")
	listCmd.Flags().Int("limit", 0, "page size (default catalog.page_size)")
	listCmd.Flags().Bool("json", false, "print JSON instead of a table")
}

// --- show ---

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show the detail of one item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid item id %q", args[0])
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		return withApp(cmd, func(ctx context.Context, a *app) error {
			item, err := a.catalog.Lookup(ctx, id)
			if err != nil {
				return explain(err)
			}
			d, err := a.details.GetDetail(ctx, item)
			if err != nil {
				return explain(err)
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(api.ToDetailJSON(d))
			}
			printDetail(os.Stdout, item, d)
			return nil
		})
	},
}

func init() {
	showCmd.Flags().Bool("json", false, "print JSON")
}

// --- cache ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the local cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		st, err := store.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("reading cache stats: %w", err)
		}
		printStats(st)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached item and detail",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL cached data. Use --confirm to proceed.")
			return nil
		}
		viaServer, _ := cmd.Flags().GetBool("server")
		if viaServer {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			resp, err := newAPIClientFor(cfg).delete(cmd.Context(), "/cache")
			if err != nil {
				return err
			}
			var result map[string]int
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			printSuccess("Cleared %d items and %d details", result["items_deleted"], result["details_deleted"])
			return nil
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		items, details, err := clearStore(cmd.Context(), store)
		if err != nil {
			return err
		}
		printSuccess("Cleared %d items and %d details", items, details)
		return nil
	},
}

var cacheEvictCmd = &cobra.Command{
	Use:   "evict <id>",
	Short: "Remove one item and its detail from the cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid item id %q", args[0])
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		itemErr := store.DeleteItem(cmd.Context(), id)
		detailErr := store.DeleteDetail(cmd.Context(), id)
		if errors.Is(itemErr, storage.ErrNotFound) && errors.Is(detailErr, storage.ErrNotFound) {
			return fmt.Errorf("item %d is not cached", id)
		}
		for _, err := range []error{itemErr, detailErr} {
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
		}
		printSuccess("Evicted item %d", id)
		return nil
	},
}

func init() {
	cacheClearCmd.Flags().Bool("confirm", false, "confirm cache deletion")
	cacheClearCmd.Flags().Bool("server", false, "clear through the running server instead of the database file")
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheEvictCmd)
}

func openStore() (*storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

// clearStore deletes details before items.
func clearStore(ctx context.Context, store *storage.Store) (items, details int, err error) {
	if details, err = store.DeleteAllDetails(ctx); err != nil {
		return 0, 0, fmt.Errorf("clearing details: %w", err)
	}
	if items, err = store.DeleteAllItems(ctx); err != nil {
		return 0, details, fmt.Errorf("clearing items: %w", err)
	}
	return items, details, nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		fmt.Printf("# %s\n", config.FilePath())
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "($"+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value.\n\nValid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// explain adds a hint for errors a user can act on.
func explain(err error) error {
	switch {
	case errors.Is(err, catalog.ErrNoCache):
		return fmt.Errorf("%w (connect to the network once to populate the cache)", err)
	case catalog.Retryable(err):
		return fmt.Errorf("%w (temporary, try again)", err)
	}
	return err
}

func writeItemsJSON(w io.Writer, items []catalog.Item) error {
	out := make([]api.ItemJSON, 0, len(items))
	for _, it := range items {
		out = append(out, api.ItemJSON{
			ID:             it.ID,
			Name:           it.Name,
			Number:         it.Number,
			Types:          it.Types,
			Height:         it.Height,
			Weight:         it.Weight,
			BaseExperience: it.BaseExperience,
			HasImage:       it.Image != nil,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printItems(w io.Writer, items []catalog.Item) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	// Escape codes would skew column widths, so the table stays uncolored.
	fmt.Fprintln(tw, "NUMBER\tNAME\tTYPES\tART")
	for _, it := range items {
		art := "-"
		if it.Image != nil {
			art = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", it.Number, it.Name, strings.Join(it.Types, "/"), art)
	}
	tw.Flush()
}

func printDetail(w io.Writer, item catalog.Item, d catalog.Detail) {
	fmt.Fprintf(w, "%s %s\n", colorize(colorCyan, item.Number), colorize(colorBold, d.Name))
	fmt.Fprintf(w, "  %s\n", d.Genus)
	fmt.Fprintf(w, "  Types: %s\n", strings.Join(d.Types, ", "))
	fmt.Fprintf(w, "  Height: %.1f m  Weight: %.1f kg  Base XP: %d\n", float64(d.Height)/10, float64(d.Weight)/10, d.BaseExperience)
	if d.VarietyCount > 0 {
		fmt.Fprintf(w, "  Varieties: %d\n", d.VarietyCount)
	}
	if !d.IsEmpty() {
		fmt.Fprintf(w, "\n  %s\n", d.Description)
	}
}

func printStats(st storage.Stats) {
	printStatus("Cached items", "%d (%d with artwork)", st.Items, st.ItemsWithArt)
	printStatus("Cached details", "%d", st.Details)
	if !st.LastDetailAt.IsZero() {
		printStatus("Last detail", "%s", st.LastDetailAt.Local().Format("2006-01-02 15:04"))
	}
}
