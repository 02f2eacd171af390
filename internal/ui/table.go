package ui

import (
	"fmt"

	"github.com/BioHazard786/codedrop/internal/utils"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// FileTableItem is one row of the batch preview.
type FileTableItem struct {
	Index int
	Name  string
	Size  int64
	Type  string
}

func FileTableView(items []FileTableItem) string {
	if len(items) == 0 {
		return MutedStyle.Render("No files")
	}

	var (
		rows  [][]string
		total int64
	)
	for _, item := range items {
		rows = append(rows, []string{
			fmt.Sprintf("%d", item.Index),
			utils.TruncateString(item.Name, 50),
			utils.FormatSize(item.Size),
			utils.TruncateString(item.Type, 20),
		})
		total += item.Size
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "Name", "Size", "Type").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	title := TitleStyle.Render(fmt.Sprintf("%s Files", IconFile))
	footer := MutedStyle.Render(fmt.Sprintf("%d file(s), %s", len(items), utils.FormatSize(total)))
	return lipgloss.JoinVertical(lipgloss.Left, title, tbl.Render(), footer)
}

func RenderFileTable(items []FileTableItem) {
	fmt.Println(FileTableView(items))
}
