package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/BioHazard786/codedrop/internal/transfer"
	"github.com/BioHazard786/codedrop/internal/utils"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Summary is what a finished batch reports.
type Summary struct {
	Title   string
	Files   []transfer.Result
	Elapsed time.Duration

	// Location is where received files ended up, if anywhere.
	Location string
}

func (s Summary) TotalBytes() int64 {
	var n int64
	for _, f := range s.Files {
		n += f.Size
	}
	return n
}

// RenderSummary writes the per-file table with digests followed by totals.
func RenderSummary(w io.Writer, s Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.Style().Title.Align = text.AlignCenter
	t.Style().Color.Header = text.Colors{text.FgCyan, text.Bold}
	t.Style().Color.Footer = text.Colors{text.FgHiBlack}

	if s.Title != "" {
		t.SetTitle(s.Title)
	}
	t.AppendHeader(table.Row{"#", "Name", "Size", "BLAKE3"})
	for i, f := range s.Files {
		t.AppendRow(table.Row{i + 1, utils.TruncateString(f.Name, 40), utils.FormatSize(f.Size), shortDigest(f.Digest)})
	}

	total := s.TotalBytes()
	var speed float64
	if secs := s.Elapsed.Seconds(); secs > 0 {
		speed = float64(total) / secs
	}
	t.AppendFooter(table.Row{
		len(s.Files),
		utils.FormatTimeDuration(s.Elapsed),
		utils.FormatSize(total),
		utils.FormatSpeed(speed),
	})
	t.Render()

	if s.Location != "" {
		fmt.Fprintf(w, "%s Saved to %s\n", IconComplete, s.Location)
	}
}

func shortDigest(d string) string {
	if len(d) <= 16 {
		return d
	}
	return d[:16]
}
