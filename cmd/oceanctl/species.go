package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/oceanvision/marine-catalog/internal/application/query"
)

func newSearchCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "search [text]",
		Short: "Search species by common or scientific name",
		Long:  "Search species by a case-insensitive substring of the common or scientific name. Without text the whole catalog is listed.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := c.openCatalog(cmd)
			if err != nil {
				return err
			}
			defer cat.Close()

			var text string
			if len(args) == 1 {
				text = args[0]
			}
			result, err := query.NewSearchSpeciesHandler(cat.Store).Handle(cmd.Context(), query.SearchSpeciesQuery{Text: text})
			if err != nil {
				return err
			}
			return c.printList(cmd, result)
		},
	}
}

func newAdvancedCmd(c *cli) *cobra.Command {
	var (
		q                  query.AdvancedSearchQuery
		minDepth, maxDepth float64
	)

	cmd := &cobra.Command{
		Use:   "advanced",
		Short: "Search species by several criteria at once",
		Long:  "Every given criterion must match. The depth range applies only when both --min-depth and --max-depth are set.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("min-depth") {
				q.MinDepth = &minDepth
			}
			if cmd.Flags().Changed("max-depth") {
				q.MaxDepth = &maxDepth
			}

			cat, err := c.openCatalog(cmd)
			if err != nil {
				return err
			}
			defer cat.Close()

			result, err := query.NewAdvancedSearchHandler(cat.Store).Handle(cmd.Context(), q)
			if err != nil {
				return err
			}
			return c.printList(cmd, result)
		},
	}

	cmd.Flags().StringVar(&q.Name, "name", "", "name substring")
	cmd.Flags().StringVar(&q.Habitat, "habitat", "", "habitat substring")
	cmd.Flags().StringVar(&q.ConservationStatus, "status", "", "conservation status substring")
	cmd.Flags().StringVar(&q.Diet, "diet", "", "diet item substring")
	cmd.Flags().Float64Var(&minDepth, "min-depth", 0, "lower depth bound in meters")
	cmd.Flags().Float64Var(&maxDepth, "max-depth", 0, "upper depth bound in meters")

	return cmd
}

func newGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one species",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := c.openCatalog(cmd)
			if err != nil {
				return err
			}
			defer cat.Close()

			record, err := query.NewGetSpeciesHandler(cat.Store).Handle(cmd.Context(), query.GetSpeciesQuery{ID: args[0]})
			if err != nil {
				return err
			}
			if c.jsonOut {
				return printJSON(cmd.OutOrStdout(), record)
			}
			printRecord(cmd.OutOrStdout(), record)
			return nil
		},
	}
}

func newRandomCmd(c *cli) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "random",
		Short: "Pick random species",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := c.openCatalog(cmd)
			if err != nil {
				return err
			}
			defer cat.Close()

			result, err := query.NewGetRandomSpeciesHandler(cat.Store).Handle(cmd.Context(), query.GetRandomSpeciesQuery{Count: count})
			if err != nil {
				return err
			}
			return c.printList(cmd, result)
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 6, "number of species")
	return cmd
}

func newDepthCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "depth <min> <max>",
		Short: "List species living anywhere within a depth interval (meters)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			minDepth, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("min: %q is not a number", args[0])
			}
			maxDepth, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("max: %q is not a number", args[1])
			}
			return c.filter(cmd, query.FilterSpeciesQuery{
				Kind:     query.FilterDepth,
				MinDepth: minDepth,
				MaxDepth: maxDepth,
			})
		},
	}
}

func newHabitatCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "habitat <habitat>",
		Short: "List species by habitat substring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.filter(cmd, query.FilterSpeciesQuery{Kind: query.FilterHabitat, Value: args[0]})
		},
	}
}

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status <conservation-status>",
		Short: "List species by conservation status substring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.filter(cmd, query.FilterSpeciesQuery{Kind: query.FilterStatus, Value: args[0]})
		},
	}
}

func (c *cli) filter(cmd *cobra.Command, q query.FilterSpeciesQuery) error {
	cat, err := c.openCatalog(cmd)
	if err != nil {
		return err
	}
	defer cat.Close()

	result, err := query.NewFilterSpeciesHandler(cat.Store).Handle(cmd.Context(), q)
	if err != nil {
		return err
	}
	return c.printList(cmd, result)
}
