package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pgweekly/pgwsearch/internal/logging"
)

func newLogsCmd() *cobra.Command {
	var (
		lines int
		level string
		file  string
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the last lines of the log file",
		Example: `  pgwsearch logs -n 100
  pgwsearch logs --level warn`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := logging.FindLogFile(file)
			if err != nil {
				return err
			}
			entries, err := tailLog(path, lines, level)
			if err != nil {
				return err
			}
			for _, e := range entries {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), e); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&level, "level", "", "Show only records at or above this level (debug|info|warn|error)")
	cmd.Flags().StringVar(&file, "file", "", "Log file (default ~/.pgwsearch/logs/pgwsearch.log)")
	return cmd
}

// tailLog returns the last n records of path at or above minLevel.
// Lines that are not JSON records are kept unless a level is given.
func tailLog(path string, n int, minLevel string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	threshold := logging.LevelFromString(minLevel)
	var ring []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if minLevel != "" {
			var rec struct {
				Level string `json:"level"`
			}
			if json.Unmarshal([]byte(line), &rec) != nil || logging.LevelFromString(rec.Level) < threshold {
				continue
			}
		}
		ring = append(ring, line)
		if n > 0 && len(ring) > n {
			ring = ring[1:]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}
	return ring, nil
}
