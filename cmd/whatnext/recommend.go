package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/whatnext/internal/prefs"
	"github.com/kalambet/whatnext/internal/recommend"
	"github.com/kalambet/whatnext/internal/storage"
)

// maxPromptAttempts bounds re-prompting on unparseable input before the
// current item is skipped.
const maxPromptAttempts = 3

var recommendCmd = &cobra.Command{
	Use:   "recommend <domain>",
	Short: "Recommend items from a domain",
	Long: `Recommend items from a domain, ranked by stored preferences and
rating history.

With --next, items are shown one at a time: accept, rate, dismiss, or ask
for the next one. Dismissed items never come back.

Examples:
  whatnext recommend movie --user alice
  whatnext recommend tv --user alice --count 10
  whatnext recommend restaurant --user alice --next`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userName, _ := cmd.Flags().GetString("user")
		count, _ := cmd.Flags().GetInt("count")
		next, _ := cmd.Flags().GetBool("next")

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

		if count <= 0 {
			count = app.cfg.Recommend.Count
		}

		p, err := app.prefs.Get(user.ID, domain)
		if err != nil {
			return err
		}
		seen, err := app.store.ListInteractionEntityIDs(user.ID, domain)
		if err != nil {
			return err
		}
		excl := recommend.NewExclusion(seen)
		engine := app.engines[domain]

		if next {
			return runNextLoop(cmd, app, engine, user, domain, p, excl)
		}

		picks, err := engine.Recommend(cmd.Context(), user.ID, p, excl, count)
		if err != nil {
			return err
		}
		if len(picks) == 0 {
			fmt.Println("No recommendations available. Try syncing the catalog or relaxing preferences.")
			return nil
		}

		for i, pick := range picks {
			printPick(i+1, pick)
		}
		return nil
	},
}

func init() {
	recommendCmd.Flags().String("user", "", "user name")
	recommendCmd.Flags().Int("count", 0, "number of recommendations (default from config)")
	recommendCmd.Flags().Bool("next", false, "show one item at a time")
}

func printPick(n int, pick recommend.Scored) {
	header := fmt.Sprintf("%d. %s", n, pick.Entity.Name)
	fmt.Printf("\n%s  %s\n", colorize(colorBold, header), colorize(colorCyan, fmt.Sprintf("[%.2f]", pick.Score)))
	if pick.Entity.Rating > 0 {
		fmt.Printf("   rating %.1f", pick.Entity.Rating)
		if pick.Entity.Year > 0 {
			fmt.Printf(", %d", pick.Entity.Year)
		}
		if pick.Entity.Runtime > 0 {
			fmt.Printf(", %d min", pick.Entity.Runtime)
		}
		fmt.Println()
	}
	if len(pick.Entity.Categories) > 0 {
		fmt.Printf("   %s\n", strings.Join(pick.Entity.Categories, ", "))
	}
	if pick.Entity.Address != "" {
		fmt.Printf("   %s\n", pick.Entity.Address)
	}
	fmt.Printf("   id: %s\n", pick.Entity.ExternalID)
}

// runNextLoop shows one recommendation at a time. Each round asks the engine
// for a single item, the exclusion set growing as items are shown, so "next"
// keeps producing fresh results until the catalog is exhausted.
func runNextLoop(cmd *cobra.Command, app *app, engine *recommend.Engine, user storage.User, domain string, p prefs.Preferences, excl *recommend.Exclusion) error {
	reader := bufio.NewScanner(os.Stdin)

	for {
		picks, err := engine.Recommend(cmd.Context(), user.ID, p, excl, 1)
		if err != nil {
			return err
		}
		if len(picks) == 0 {
			fmt.Println("\nNothing left to suggest. Try syncing the catalog or relaxing preferences.")
			return nil
		}

		pick := picks[0]
		printPick(1, pick)
		excl.Add(pick.Entity)

		action, value, ok := promptAction(reader)
		if !ok {
			return nil
		}

		switch action {
		case actionAccept:
			printSuccess("Enjoy %q!", pick.Entity.Name)
			return nil
		case actionRate:
			if err := app.store.RecordInteraction(user.ID, domain, pick.Entity.LocalID, value); err != nil {
				return err
			}
			printSuccess("Rated %q %d/5", pick.Entity.Name, value)
		case actionDismiss:
			if err := app.store.RecordInteraction(user.ID, domain, pick.Entity.LocalID, -1); err != nil {
				return err
			}
			printSuccess("Dismissed %q", pick.Entity.Name)
		case actionNext:
			// Already excluded for this session; nothing to record.
		}
	}
}

type promptResult int

const (
	actionAccept promptResult = iota
	actionNext
	actionRate
	actionDismiss
)

// promptAction reads one action from stdin. Invalid input re-prompts a
// bounded number of times, then falls through to "next". Returns ok=false
// on quit or EOF.
func promptAction(reader *bufio.Scanner) (promptResult, int, bool) {
	for attempt := 0; attempt < maxPromptAttempts; attempt++ {
		fmt.Print("\n[a]ccept  [n]ext  [r]ate 1-5  [d]ismiss  [q]uit > ")
		if !reader.Scan() {
			fmt.Println()
			return actionNext, 0, false
		}
		input := strings.ToLower(strings.TrimSpace(reader.Text()))

		switch {
		case input == "a" || input == "accept":
			return actionAccept, 0, true
		case input == "n" || input == "next" || input == "":
			return actionNext, 0, true
		case input == "d" || input == "dismiss":
			return actionDismiss, 0, true
		case input == "q" || input == "quit":
			return actionNext, 0, false
		case strings.HasPrefix(input, "r"):
			rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(input, "rate"), "r"))
			if v, err := strconv.Atoi(rest); err == nil && v >= 1 && v <= 5 {
				return actionRate, v, true
			}
			printWarning("Rate needs a value 1-5, e.g. \"r 4\"")
		default:
			if v, err := strconv.Atoi(input); err == nil && v >= 1 && v <= 5 {
				return actionRate, v, true
			}
			printWarning("Unrecognized input %q", input)
		}
	}
	return actionNext, 0, true
}
