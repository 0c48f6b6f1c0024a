package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/oceanvision/marine-catalog/internal/application/query"
	"github.com/oceanvision/marine-catalog/internal/domain/species"
)

func (c *cli) printList(cmd *cobra.Command, result *query.SpeciesListResult) error {
	if c.jsonOut {
		return printJSON(cmd.OutOrStdout(), result)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCOMMON NAME\tSCIENTIFIC NAME\tSTATUS\tDEPTH")
	for _, r := range result.Species {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.CommonName, r.ScientificName, r.ConservationStatus, formatRange(r.Depth))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d species\n", result.Total)
	return nil
}

func printRecord(out io.Writer, r *species.Record) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", r.ID)
	fmt.Fprintf(w, "Common name:\t%s\n", r.CommonName)
	fmt.Fprintf(w, "Scientific name:\t%s\n", r.ScientificName)
	fmt.Fprintf(w, "Taxonomy:\t%s\n", strings.Join(nonEmpty(r.Kingdom, r.Phylum, r.Order, r.Family), " > "))
	fmt.Fprintf(w, "Status:\t%s\n", r.ConservationStatus)
	fmt.Fprintf(w, "Habitat:\t%s\n", strings.Join(r.Habitat, ", "))
	fmt.Fprintf(w, "Depth:\t%s\n", formatRange(r.Depth))
	fmt.Fprintf(w, "Length:\t%s\n", formatRange(r.Size.Length))
	if r.Size.Weight != nil {
		fmt.Fprintf(w, "Weight:\t%s\n", formatRange(*r.Size.Weight))
	}
	if r.Lifespan > 0 {
		fmt.Fprintf(w, "Lifespan:\t%g years\n", r.Lifespan)
	}
	fmt.Fprintf(w, "Diet:\t%s\n", strings.Join(r.Diet, ", "))
	fmt.Fprintf(w, "Distribution:\t%s\n", strings.Join(r.Distribution, ", "))
	fmt.Fprintf(w, "Sources:\t%s\n", strings.Join(r.Sources, ", "))
	fmt.Fprintf(w, "Last updated:\t%s\n", r.LastUpdated)
	_ = w.Flush()

	if r.Description != "" {
		fmt.Fprintf(out, "\n%s\n", r.Description)
	}
	for _, f := range r.Facts {
		fmt.Fprintf(out, "  * %s\n", f)
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatRange(r species.Range) string {
	if r.Min == r.Max {
		return strings.TrimSpace(fmt.Sprintf("%g %s", r.Min, r.Unit))
	}
	return strings.TrimSpace(fmt.Sprintf("%g-%g %s", r.Min, r.Max, r.Unit))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
