package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kalambet/whatnext/internal/api"
	"github.com/kalambet/whatnext/internal/config"
	"github.com/kalambet/whatnext/internal/storage"
	"github.com/kalambet/whatnext/internal/syncer"
)

// --- user ---

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		user, err := app.store.CreateUser(args[0])
		if err != nil {
			return err
		}
		printSuccess("Created user %s (%s)", user.Name, user.ID[:8])
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		users, err := app.store.ListUsers()
		if err != nil {
			return err
		}
		if len(users) == 0 {
			fmt.Println("No users yet. Create one with: whatnext user add <name>")
			return nil
		}
		for _, u := range users {
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, u.ID[:8]),
				u.CreatedAt.Format("2006-01-02"),
				u.Name,
			)
		}
		return nil
	},
}

func init() {
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
}

// --- prefs ---

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or update per-domain preferences",
}

var prefsShowCmd = &cobra.Command{
	Use:   "show <domain>",
	Short: "Show stored preferences for a domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userName, _ := cmd.Flags().GetString("user")

		domain, err := resolveDomain(args[0])
		if err != nil {
			return err
		}

		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		user, err := app.userByName(userName)
		if err != nil {
			return err
		}

		p, err := app.prefs.Get(user.ID, domain)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(api.ViewFromPreferences(p))
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <domain> <key> <value>",
	Short: "Set one preference field",
	Long: `Set one preference field for a user and domain.

List fields take comma-separated values; an empty string or "any" clears.

Examples:
  whatnext prefs set movie categories "Action,Thriller" --user alice
  whatnext prefs set restaurant requirements vegan --user alice
  whatnext prefs set movie min_rating 7.5 --user alice
  whatnext prefs set tv languages any --user alice`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		userName, _ := cmd.Flags().GetString("user")

		domain, err := resolveDomain(args[0])
		if err != nil {
			return err
		}
		key, value := args[1], args[2]

		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		user, err := app.userByName(userName)
		if err != nil {
			return err
		}

		p, err := app.prefs.Get(user.ID, domain)
		if err != nil {
			return err
		}
		if err := api.ApplyPreferenceField(&p, key, value); err != nil {
			return err
		}
		if err := app.prefs.Set(user.ID, domain, p); err != nil {
			return err
		}

		printSuccess("Set %s = %s for %s/%s", key, value, user.Name, domain)
		return nil
	},
}

func init() {
	prefsShowCmd.Flags().String("user", "", "user name")
	prefsSetCmd.Flags().String("user", "", "user name")
	prefsCmd.AddCommand(prefsShowCmd)
	prefsCmd.AddCommand(prefsSetCmd)
}

// --- rate / dismiss ---

var rateCmd = &cobra.Command{
	Use:   "rate <domain> <external-id> <value>",
	Short: "Rate a catalog item 1-5",
	Long: `Rate a catalog item 1-5. Rated items never come back in
recommendations; items rated 4 or higher seed the similarity phase.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := strconv.Atoi(args[2])
		if err != nil || value < 1 || value > 5 {
			return fmt.Errorf("value must be an integer 1..5")
		}
		return recordInteraction(cmd, args[0], args[1], value)
	},
}

var dismissCmd = &cobra.Command{
	Use:   "dismiss <domain> <external-id>",
	Short: "Dismiss a catalog item so it is never recommended again",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return recordInteraction(cmd, args[0], args[1], -1)
	},
}

func recordInteraction(cmd *cobra.Command, domainArg, externalID string, value int) error {
	userName, _ := cmd.Flags().GetString("user")

	domain, err := resolveDomain(domainArg)
	if err != nil {
		return err
	}

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	user, err := app.userByName(userName)
	if err != nil {
		return err
	}

	entity, err := app.store.GetEntityByExternalID(domain, externalID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("no %s with id %q in the catalog (run: whatnext sync %s)", domain, externalID, domain)
		}
		return err
	}

	if err := app.store.RecordInteraction(user.ID, domain, entity.LocalID, value); err != nil {
		return err
	}

	if value == -1 {
		printSuccess("Dismissed %q", entity.Name)
	} else {
		printSuccess("Rated %q %d/5", entity.Name, value)
	}
	return nil
}

func init() {
	rateCmd.Flags().String("user", "", "user name")
	dismissCmd.Flags().String("user", "", "user name")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history <domain>",
	Short: "Show rated and dismissed items for a domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userName, _ := cmd.Flags().GetString("user")

		domain, err := resolveDomain(args[0])
		if err != nil {
			return err
		}

		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		user, err := app.userByName(userName)
		if err != nil {
			return err
		}

		ids, err := app.store.ListInteractionEntityIDs(user.ID, domain)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("No history yet.")
			return nil
		}

		ratings, err := app.store.ListRatings(user.ID, domain)
		if err != nil {
			return err
		}
		rated := make(map[int64]int, len(ratings))
		for _, r := range ratings {
			rated[r.EntityID] = r.Value
		}

		for _, id := range ids {
			entity, err := app.store.GetEntity(id)
			if err != nil {
				continue
			}
			label := colorize(colorYellow, "dismissed")
			if v, ok := rated[id]; ok {
				label = colorize(colorGreen, fmt.Sprintf("%d/5", v))
			}
			fmt.Printf("%-10s %s\n", label, entity.Name)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().String("user", "", "user name")
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync <domain>",
	Short: "Refresh the local catalog from the external providers",
	Long: `Refresh the local catalog from the external providers.

Movies and TV shows sync from the popular lists; restaurants sync by
location search.

Examples:
  whatnext sync movie --pages 3
  whatnext sync tv
  whatnext sync restaurant --location "Lisbon, Portugal"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pages, _ := cmd.Flags().GetInt("pages")
		location, _ := cmd.Flags().GetString("location")

		domain, err := resolveDomain(args[0])
		if err != nil {
			return err
		}

		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if pages <= 0 {
			pages = app.cfg.Sync.Pages
		}

		ctx := cmd.Context()
		var count int
		switch domain {
		case storage.DomainRestaurant:
			if location == "" {
				return fmt.Errorf("--location is required for restaurant sync")
			}
			printStep("Searching restaurants near %q...", location)
			count, err = syncer.SyncLocation(ctx, app.store, app.places, location)
		default:
			printStep("Fetching popular %ss (%d pages)...", domain, pages)
			count, err = syncer.SyncPopular(ctx, app.store, app.sources[domain], pages)
		}
		if err != nil {
			return err
		}

		printSuccess("Synced %d %s entries", count, domain)
		return nil
	},
}

func init() {
	syncCmd.Flags().Int("pages", 0, "popular pages to fetch (default from config)")
	syncCmd.Flags().String("location", "", "location for restaurant search")
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <domain> <query>",
	Short: "Search the external provider and add results to the catalog",
	Long: `Search the external provider by title and add results to the local
catalog, so they can be rated or dismissed by external id.

Restaurants are searched by location instead: whatnext sync restaurant --location "..."

Examples:
  whatnext search movie "blade runner"
  whatnext search tv "the wire"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		domain, err := resolveDomain(args[0])
		if err != nil {
			return err
		}
		if domain == storage.DomainRestaurant {
			return fmt.Errorf("restaurants are searched by location: whatnext sync restaurant --location \"...\"")
		}

		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		results, err := app.searchers[domain].Search(cmd.Context(), args[1])
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No matches.")
			return nil
		}

		for _, e := range results {
			stored, err := app.store.UpsertEntity(e)
			if err != nil {
				return err
			}
			year := ""
			if stored.Year > 0 {
				year = fmt.Sprintf(" (%d)", stored.Year)
			}
			fmt.Printf("%s  %s%s  %.1f\n",
				colorize(colorCyan, stored.ExternalID),
				stored.Name, year, stored.Rating,
			)
		}
		return nil
	},
}

// --- data ---

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Export or purge stored data",
}

var dataExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all stored data as JSONL",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		writer := os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		}
		enc := json.NewEncoder(writer)

		users, err := app.store.ListUsers()
		if err != nil {
			return err
		}
		for _, u := range users {
			enc.Encode(map[string]any{"type": "user", "data": u})
			for _, domain := range storage.Domains {
				p, found, err := app.store.GetPreferences(u.ID, domain)
				if err != nil {
					return err
				}
				if !found {
					continue
				}
				enc.Encode(map[string]any{
					"type": "preferences",
					"data": map[string]any{
						"user":   u.Name,
						"domain": domain,
						"fields": api.ViewFromPreferences(p),
					},
				})
			}
		}

		for _, domain := range storage.Domains {
			entities, err := app.store.ListEntities(domain)
			if err != nil {
				return err
			}
			for _, e := range entities {
				enc.Encode(map[string]any{"type": "entity", "data": e})
			}
		}

		interactions, err := app.store.ListInteractions()
		if err != nil {
			return err
		}
		for _, ix := range interactions {
			enc.Encode(map[string]any{"type": "interaction", "data": ix})
		}

		if output != "" {
			printSuccess("Data exported to %s", output)
		}
		return nil
	},
}

var dataPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all stored data",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL stored data. Use --confirm to proceed.")
			return nil
		}

		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.store.PurgeAll(); err != nil {
			return err
		}
		printSuccess("All data purged")
		return nil
	},
}

func init() {
	dataExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	dataPurgeCmd.Flags().Bool("confirm", false, "confirm data purge")
	dataCmd.AddCommand(dataExportCmd)
	dataCmd.AddCommand(dataPurgeCmd)
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

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
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
