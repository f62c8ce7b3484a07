package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"supportflow/pkg/products"
)

func newProductsCmd(root *rootOptions) *cobra.Command {
	var (
		search string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "products",
		Short: "List the product allowlist or rank it against a query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			catalog, err := products.LoadCatalog(cfg.Products.CatalogPath)
			if err != nil {
				return err
			}
			if search != "" {
				return printRanked(cmd.OutOrStdout(), catalog.Rank(search, limit))
			}
			for _, p := range catalog.Products() {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "rank products against this text")
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "number of candidates to show with --search")
	return cmd
}

func printRanked(w io.Writer, ranked []products.Candidate) error {
	if len(ranked) == 0 {
		_, err := fmt.Fprintln(w, "no matching products")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRODUCT\tSCORE")
	for _, c := range ranked {
		fmt.Fprintf(tw, "%s\t%.3f\n", c.Product, c.Score)
	}
	return tw.Flush()
}
