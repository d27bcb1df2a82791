package reporter

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/yarlson/go-solve/internal/loop"
	"github.com/yarlson/go-solve/internal/state"
)

// Status is what `solve status` shows for one working copy.
type Status struct {
	// Session is the last resumable session, if any.
	Session *state.SessionState

	// Paused reports whether watch mode was asked to pause.
	Paused bool

	// Records lists cycle records, newest first.
	Records []*loop.CycleRecord
}

// LoadStatus gathers the status of the working copy at root.
// limit caps the number of records; zero keeps all.
func LoadStatus(root string, limit int) (*Status, error) {
	session, err := state.LoadSession(state.SessionFilePath(root))
	if err != nil {
		return nil, err
	}

	paused, err := state.IsPaused(root)
	if err != nil {
		return nil, err
	}

	records, err := loop.ListRecords(state.RecordsDirPath(root))
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	return &Status{Session: session, Paused: paused, Records: records}, nil
}

// NewTable creates a borderless, left-aligned table.
func NewTable(w io.Writer, headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(w,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}

// WriteStatus renders s for CLI display.
func WriteStatus(w io.Writer, s *Status) error {
	if s.Session != nil && s.Session.SessionID != "" {
		_, _ = fmt.Fprintf(w, "Last session: %s (%s)\n", s.Session.SessionID, s.Session.Backend)
		if s.Session.Outcome != "" {
			_, _ = fmt.Fprintf(w, "Outcome: %s\n", OutcomeColor(s.Session.Outcome))
		}
		if s.Session.Target != "" {
			_, _ = fmt.Fprintf(w, "Target: %s\n", s.Session.Target)
		}
		if s.Session.ResumeCommand != "" {
			_, _ = fmt.Fprintf(w, "Resume: solve resume %s\n", s.Session.SessionID)
		}
	} else {
		_, _ = fmt.Fprintln(w, "Last session: none")
	}

	if s.Paused {
		_, _ = fmt.Fprintln(w, yellow("Watch mode is paused"))
	}

	if len(s.Records) == 0 {
		_, _ = fmt.Fprintln(w, "\nNo cycles recorded.")
		return nil
	}

	_, _ = fmt.Fprintln(w)
	table := NewTable(w, []string{"CYCLE", "STARTED", "OUTCOME", "ITER", "SESSION", "COST", "TARGET"})
	for _, r := range s.Records {
		cost := "-"
		if r.TotalCostUSD > 0 {
			cost = fmt.Sprintf("$%.2f", r.TotalCostUSD)
		}
		if err := table.Append([]string{
			r.ID,
			r.StartTime.Local().Format(time.DateTime),
			OutcomeColor(string(r.Outcome)),
			fmt.Sprintf("%d", r.Iterations),
			orDash(r.LastSessionID()),
			cost,
			orDash(r.Target),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
