package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yarlson/go-solve/internal/reporter"
	"github.com/yarlson/go-solve/internal/state"
	"github.com/yarlson/go-solve/internal/stream"
)

func newLogsCmd() *cobra.Command {
	var (
		raw       bool
		showTools bool
	)

	cmd := &cobra.Command{
		Use:   "logs [file|latest]",
		Short: "List or replay agent session logs",
		Long: `Without arguments, list the NDJSON session logs under .solve/logs.
With a file name (or "latest"), replay that log as readable agent output.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(cmd, args, raw, showTools)
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "print the NDJSON unchanged")
	cmd.Flags().BoolVar(&showTools, "tools", false, "include tool invocations in the replay")

	return cmd
}

// logFile is one session log on disk.
type logFile struct {
	Backend string
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

func runLogs(cmd *cobra.Command, args []string, raw, showTools bool) error {
	workDir, err := getWorkDir()
	if err != nil {
		return err
	}

	logs, err := listLogs(state.LogsDirPath(workDir))
	if err != nil {
		return err
	}

	if len(args) == 0 {
		return writeLogList(cmd.OutOrStdout(), logs)
	}

	path, err := findLog(logs, args[0])
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer func() { _ = f.Close() }()

	if raw {
		_, err = io.Copy(cmd.OutOrStdout(), f)
		return err
	}

	p := stream.NewProcessor(cmd.OutOrStdout(), stream.Options{ShowTools: showTools})
	return p.Process(f)
}

// listLogs returns every .ndjson file under dir, newest first.
func listLogs(dir string) ([]logFile, error) {
	var logs []logFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".ndjson") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		logs = append(logs, logFile{
			Backend: filepath.Base(filepath.Dir(path)),
			Name:    d.Name(),
			Path:    path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read logs directory: %w", err)
	}

	sort.Slice(logs, func(i, j int) bool {
		return logs[i].ModTime.After(logs[j].ModTime)
	})
	return logs, nil
}

// findLog resolves "latest", a file name, or a path to a log file.
func findLog(logs []logFile, name string) (string, error) {
	if name == "latest" {
		if len(logs) == 0 {
			return "", errors.New("no logs found")
		}
		return logs[0].Path, nil
	}

	for _, l := range logs {
		if l.Name == name || strings.TrimSuffix(l.Name, ".ndjson") == name {
			return l.Path, nil
		}
	}

	if _, err := os.Stat(name); err == nil {
		return name, nil
	}
	return "", fmt.Errorf("log %q not found", name)
}

func writeLogList(w io.Writer, logs []logFile) error {
	if len(logs) == 0 {
		_, _ = fmt.Fprintln(w, "No logs found. Run 'solve <issue-url>' to create sessions.")
		return nil
	}

	table := reporter.NewTable(w, []string{"LOG", "BACKEND", "MODIFIED", "SIZE"})
	for _, l := range logs {
		if err := table.Append([]string{
			l.Name,
			l.Backend,
			l.ModTime.Local().Format(time.DateTime),
			formatSize(l.Size),
		}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w, "\nUse 'solve logs <file>' or 'solve logs latest' to replay a session.")
	return nil
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
