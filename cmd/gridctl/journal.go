package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/uhyunpark/gridquote/pkg/storage"
)

var journalCmd = &cobra.Command{
	Use:   "journal <file>",
	Short: "Print entries of a node event journal",
	Long: `Print the JSON lines a node writes to WAL_FILE, optionally filtered by
event type (create, place, cancel, swap, status) and grid id.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("type")
		gridID, _ := cmd.Flags().GetString("grid")

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		return filterJournal(f, cmd.OutOrStdout(), kind, gridID)
	},
}

func init() {
	journalCmd.Flags().String("type", "", "only entries of this type")
	journalCmd.Flags().String("grid", "", "only entries for this grid id")
	rootCmd.AddCommand(journalCmd)
}

type journalEntry struct {
	Type string `json:"type"`
	Grid string `json:"grid"`
}

func filterJournal(r io.Reader, w io.Writer, kind, gridID string) error {
	n := 0
	return storage.ReadWAL(r, func(line string) error {
		n++
		var e journalEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
		if kind != "" && e.Type != kind {
			return nil
		}
		if gridID != "" && !strings.EqualFold(e.Grid, gridID) {
			return nil
		}
		_, err := fmt.Fprintln(w, line)
		return err
	})
}
