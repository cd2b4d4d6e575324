package main

import (
	"fmt"
	"io"
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/uhyunpark/gridquote/pkg/app/core/boundary"
)

var boundaryCmd = &cobra.Command{
	Use:   "boundary",
	Short: "Convert between boundaries and prices",
}

var boundaryPriceCmd = &cobra.Command{
	Use:     "price <boundary>",
	Short:   "Print the Q64.96 and decimal price at a boundary",
	Example: `  gridctl boundary price 100
  gridctl boundary price -- -600`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := strconv.ParseInt(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("boundary: %w", err)
		}
		return printBoundaryPrice(cmd.OutOrStdout(), int32(b))
	},
}

var boundaryAtPriceCmd = &cobra.Command{
	Use:   "at-price <price>",
	Short: "Print the boundary at a price",
	Long:  `Print the greatest boundary whose price does not exceed the given price.
The price is decimal token1 per token0 unless --x96 is set.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		x96, _ := cmd.Flags().GetBool("x96")
		resolution, _ := cmd.Flags().GetInt32("resolution")

		p, err := parsePrice(args[0], x96)
		if err != nil {
			return err
		}
		b, err := boundary.BoundaryAtPrice(p)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "boundary: %d\n", b)
		if resolution > 0 {
			lower, err := boundary.BoundaryLowerAtPrice(p, resolution)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "boundaryLower(%d): %d\n", resolution, lower)
		}
		return nil
	},
}

func init() {
	boundaryAtPriceCmd.Flags().Bool("x96", false, "price is a raw Q64.96 integer")
	boundaryAtPriceCmd.Flags().Int32("resolution", 0, "also print the aligned lower boundary at this resolution")

	boundaryCmd.AddCommand(boundaryPriceCmd, boundaryAtPriceCmd)
	rootCmd.AddCommand(boundaryCmd)
}

func printBoundaryPrice(w io.Writer, b int32) error {
	p, err := boundary.PriceAtBoundary(b)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "priceX96: %s\n", p.String())
	fmt.Fprintf(w, "price: %s\n", boundary.PriceToDecimal(p).String())
	return nil
}

func parsePrice(s string, x96 bool) (*big.Int, error) {
	if x96 {
		p, ok := new(big.Int).SetString(s, 10)
		if !ok || p.Sign() <= 0 {
			return nil, fmt.Errorf("invalid priceX96 %q", s)
		}
		return p, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", s, err)
	}
	if !d.IsPositive() {
		return nil, fmt.Errorf("price must be positive: %s", s)
	}
	return boundary.DecimalToPrice(d), nil
}
