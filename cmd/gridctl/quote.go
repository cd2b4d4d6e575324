package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/uhyunpark/gridquote/pkg/api"
)

const defaultTimeout = 10 * time.Second

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Request quotes from a running node",
}

var quoteExactInputCmd = &cobra.Command{
	Use:     "exact-input",
	Short:   "Quote the output for an exact input amount",
	Example: `  gridctl quote exact-input --path 0x... --amount 1000000`,
	RunE:    runQuote(true),
}

var quoteExactOutputCmd = &cobra.Command{
	Use:   "exact-output",
	Short: "Quote the input for an exact output amount (path encoded output-first)",
	RunE:  runQuote(false),
}

func init() {
	for _, c := range []*cobra.Command{quoteExactInputCmd, quoteExactOutputCmd} {
		c.Flags().String("path", "", "hex encoded path")
		c.Flags().String("amount", "", "amount in token base units")
		_ = c.MarkFlagRequired("path")
		_ = c.MarkFlagRequired("amount")
	}
	quoteCmd.AddCommand(quoteExactInputCmd, quoteExactOutputCmd)
	rootCmd.AddCommand(quoteCmd)
}

func runQuote(exactInput bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		pathHex, _ := cmd.Flags().GetString("path")
		amount, _ := cmd.Flags().GetString("amount")

		path, err := hexutil.Decode(pathHex)
		if err != nil {
			return fmt.Errorf("path: %w", err)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), viper.GetDuration("timeout"))
		defer cancel()

		resp, err := requestQuote(ctx, viper.GetString("api"), exactInput, api.QuoteRequest{Path: path, Amount: amount})
		if err != nil {
			return err
		}
		return printQuote(cmd.OutOrStdout(), resp)
	}
}

func quoteURL(base string, exactInput bool) string {
	kind := "exact-output"
	if exactInput {
		kind = "exact-input"
	}
	return strings.TrimRight(base, "/") + "/api/v1/quote/" + kind
}

func requestQuote(ctx context.Context, base string, exactInput bool, req api.QuoteRequest) (*api.QuoteResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, quoteURL(base, exactInput), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.Message != "" {
				return nil, fmt.Errorf("%s (%d): %s", apiErr.Error, res.StatusCode, apiErr.Message)
			}
			return nil, fmt.Errorf("%s (%d)", apiErr.Error, res.StatusCode)
		}
		return nil, fmt.Errorf("unexpected status %d", res.StatusCode)
	}

	var quote api.QuoteResponse
	if err := json.Unmarshal(raw, &quote); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	return &quote, nil
}

func printQuote(w io.Writer, q *api.QuoteResponse) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(q)
}
