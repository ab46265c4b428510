package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/automa-app/automa-go/internal/journal"
	"github.com/automa-app/automa-go/internal/workspace"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	cellStyle  = lipgloss.NewStyle().PaddingRight(2)
)

// workspaceState describes a task directory as READY (token present),
// STALE (directory without token) or ABSENT.
func workspaceState(ctx context.Context, mgr workspace.Manager, taskID int64) string {
	if _, err := mgr.ReadToken(ctx, taskID); err == nil {
		return okStyle.Render("READY")
	}
	if _, err := os.Stat(mgr.Path(taskID)); errors.Is(err, fs.ErrNotExist) {
		return dimStyle.Render("ABSENT")
	}
	return warnStyle.Render("STALE")
}

func renderTable(header []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderColumn(false).
		BorderHeader(false).
		Headers(header...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return cellStyle.Inherit(dimStyle)
			}
			return cellStyle
		})
	return t.String()
}

func renderDownloads(ctx context.Context, mgr workspace.Manager, downloads []journal.DownloadRecord) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Recent downloads"))
	b.WriteString("\n")

	if len(downloads) == 0 {
		b.WriteString(dimStyle.Render("  none"))
		b.WriteString("\n")
		return b.String()
	}

	rows := make([][]string, 0, len(downloads))
	for _, d := range downloads {
		digest := d.ArchiveDigest
		if len(digest) > 12 {
			digest = digest[:12]
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", d.TaskID),
			workspaceState(ctx, mgr, d.TaskID),
			fmt.Sprintf("%d", d.Entries),
			formatBytes(d.ArchiveBytes),
			digest,
			d.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	b.WriteString(renderTable([]string{"TASK", "WORKSPACE", "ENTRIES", "SIZE", "DIGEST", "DOWNLOADED"}, rows))
	b.WriteString("\n")
	return b.String()
}

func renderTaskStatus(ctx context.Context, mgr workspace.Manager, taskID int64, proposals []journal.ProposalRecord) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Task %d", taskID)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  workspace: %s %s\n", mgr.Path(taskID), workspaceState(ctx, mgr, taskID))

	if len(proposals) == 0 {
		b.WriteString(dimStyle.Render("  no proposals"))
		b.WriteString("\n")
		return b.String()
	}

	rows := make([][]string, 0, len(proposals))
	for _, p := range proposals {
		status := okStyle.Render(fmt.Sprintf("%d", p.StatusCode))
		if p.LastError != "" {
			code := "ERR"
			if p.StatusCode != 0 {
				code = fmt.Sprintf("%d", p.StatusCode)
			}
			status = failStyle.Render(code)
		}
		detail := p.Message
		if p.LastError != "" {
			detail = p.LastError
		}
		rows = append(rows, []string{
			p.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			status,
			formatBytes(int64(p.DiffBytes)),
			detail,
		})
	}
	b.WriteString(renderTable([]string{"SUBMITTED", "STATUS", "DIFF", "DETAIL"}, rows))
	b.WriteString("\n")
	return b.String()
}

func renderDeliveries(records []journal.DeliveryRecord) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Webhook deliveries"))
	b.WriteString("\n")

	if len(records) == 0 {
		b.WriteString(dimStyle.Render("  none"))
		b.WriteString("\n")
		return b.String()
	}

	rows := make([][]string, 0, len(records))
	for _, d := range records {
		rows = append(rows, []string{
			d.ReceivedAt.Local().Format("2006-01-02 15:04:05"),
			d.Endpoint,
			d.ID,
			formatBytes(int64(len(d.Payload))),
		})
	}
	b.WriteString(renderTable([]string{"RECEIVED", "ENDPOINT", "DELIVERY", "SIZE"}, rows))
	b.WriteString("\n")
	return b.String()
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}
