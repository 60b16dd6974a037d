package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/xtreamgames/xsync/internal/record"
	"github.com/xtreamgames/xsync/internal/share"
	"github.com/xtreamgames/xsync/internal/store"
	"github.com/xtreamgames/xsync/internal/watch"
)

var recordsCmd = &cobra.Command{
	Use:     "records",
	GroupID: "data",
	Short:   "Inspect and edit the local collections",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List local records",
	Long: `List the records of one local collection, newest first.

--since accepts natural language ("yesterday", "2 hours ago", "last monday"),
a duration ("48h") or a date ("2024-05-01").`,
	Run: func(cmd *cobra.Command, args []string) {
		slotName, _ := cmd.Flags().GetString("slot")
		since, _ := cmd.Flags().GetString("since")
		asJSON, _ := cmd.Flags().GetBool("json")

		slot, err := slotFor(slotName)
		if err != nil {
			exitf("%v", err)
		}
		var cutoff time.Time
		if since != "" {
			if cutoff, err = parseSince(since, time.Now()); err != nil {
				exitf("%v", err)
			}
		}

		a := mustOpenApp(nil)
		defer a.Close()

		c, err := a.store.Read(slot)
		if err != nil {
			a.Close()
			exitf("failed to read %s: %v", slotName, err)
		}
		c = filterSince(c, cutoff)

		if asJSON {
			data, _ := json.MarshalIndent(c, "", "  ")
			fmt.Fprintln(os.Stdout, string(data))
			return
		}
		printer().Records(c)
	},
}

var recordsPutCmd = &cobra.Command{
	Use:   "put <file.json>",
	Short: "Add or replace records from a JSON file",
	Long: `Insert or replace records by id. The file holds one record object, a JSON
array of records, or newline-delimited records.

Each record is stamped with the current time as updatedAt unless --keep-time
is given. The change is pushed to the cloud right away unless --no-push is
given or xsync is offline.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		slotName, _ := cmd.Flags().GetString("slot")
		keepTime, _ := cmd.Flags().GetBool("keep-time")
		noPush, _ := cmd.Flags().GetBool("no-push")

		slot, err := slotFor(slotName)
		if err != nil {
			exitf("%v", err)
		}
		incoming, err := record.ReadCollectionFile(args[0])
		if err != nil {
			exitf("%v", err)
		}
		if err := incoming.Validate(); err != nil {
			exitf("invalid records in %s: %v", args[0], err)
		}
		if !keepTime {
			now := time.Now()
			for i := range incoming {
				incoming[i] = incoming[i].WithUpdatedAt(now)
			}
		}

		ctx, cancel := signalContext()
		defer cancel()

		a := mustOpenApp(nil)
		defer a.Close()

		err = a.engine.UpdateLocal(slot, func(local record.Collection) (record.Collection, error) {
			return upsert(local, incoming), nil
		})
		if err != nil {
			a.Close()
			exitf("failed to save records: %v", err)
		}
		printer().Success("Saved %d %s to %s", len(incoming), plural(len(incoming), "record", "records"), slotName)

		if noPush || !a.engine.Online() {
			return
		}
		finishOutcome(a, a.engine.Backup(ctx))
	},
}

var recordsImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Load a whole collection from a JSON file",
	Long: `Load a collection file into a local slot.

With --policy replace (default) the file becomes the collection; with
--policy merge it is merged by id, newest updatedAt winning.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		slotName, _ := cmd.Flags().GetString("slot")
		policyName, _ := cmd.Flags().GetString("policy")

		slot, err := slotFor(slotName)
		if err != nil {
			exitf("%v", err)
		}
		policy, err := share.ParsePolicy(policyName)
		if err != nil {
			exitf("%v", err)
		}

		a := mustOpenApp(nil)
		defer a.Close()

		n, err := watch.Ingest(a.engine, watch.Event{Slot: slot, Path: args[0]}, policy)
		if err != nil {
			a.Close()
			exitf("%v", err)
		}
		printer().Success("Imported %d %s into %s (%s)", n, plural(n, "record", "records"), slotName, policy)
	},
}

// slotFor maps a collection name to its store slot.
func slotFor(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "primary", "games":
		return store.SlotPrimary, nil
	case "secondary", "playlist", "music":
		return store.SlotSecondary, nil
	default:
		return "", fmt.Errorf("unknown collection %q (use primary or secondary)", name)
	}
}

// upsert replaces records of local that share an id with incoming and
// appends the rest, keeping local order.
func upsert(local, incoming record.Collection) record.Collection {
	byID := make(map[string]record.Record, len(incoming))
	order := make([]string, 0, len(incoming))
	for _, r := range incoming {
		if _, seen := byID[r.ID]; !seen {
			order = append(order, r.ID)
		}
		byID[r.ID] = r
	}

	out := make(record.Collection, 0, len(local)+len(incoming))
	for _, r := range local {
		if repl, ok := byID[r.ID]; ok {
			out = append(out, repl)
			delete(byID, r.ID)
			continue
		}
		out = append(out, r)
	}
	for _, id := range order {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

var sinceParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseSince resolves a --since value relative to now.
func parseSince(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if d, err := time.ParseDuration(text); err == nil {
		return now.Add(-d), nil
	}
	for _, layout := range []string{time.RFC3339, time.DateTime, time.DateOnly} {
		if t, err := time.ParseInLocation(layout, text, now.Location()); err == nil {
			return t, nil
		}
	}

	r, err := sinceParser.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("could not parse --since %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand --since %q", text)
	}
	return r.Time, nil
}

// filterSince keeps records updated at or after cutoff. A zero cutoff keeps
// everything.
func filterSince(c record.Collection, cutoff time.Time) record.Collection {
	if cutoff.IsZero() {
		return c
	}
	out := make(record.Collection, 0, len(c))
	for _, r := range c {
		if !r.UpdatedAt().Before(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func init() {
	recordsListCmd.Flags().String("slot", "primary", "Collection to list (primary|secondary)")
	recordsListCmd.Flags().String("since", "", "Only records updated since this time")
	recordsListCmd.Flags().Bool("json", false, "Output JSON")

	recordsPutCmd.Flags().String("slot", "primary", "Collection to write (primary|secondary)")
	recordsPutCmd.Flags().Bool("keep-time", false, "Keep the updatedAt values from the file")
	recordsPutCmd.Flags().Bool("no-push", false, "Save locally without pushing")

	recordsImportCmd.Flags().String("slot", "primary", "Collection to write (primary|secondary)")
	recordsImportCmd.Flags().String("policy", "replace", "How to combine with local data (merge|replace)")

	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsPutCmd)
	recordsCmd.AddCommand(recordsImportCmd)
	rootCmd.AddCommand(recordsCmd)
}
