package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/ternarybob/dracma/internal/models"
)

// Summary renders the per-endpoint outcome table followed by a totals line
func Summary(report *models.FetchReport) string {
	if report == nil || report.Len() == 0 {
		return "no endpoints fetched\n"
	}

	rows := make([][]string, 0, report.Len())
	for _, r := range report.Results {
		status := "OK"
		detail := r.Location
		if !r.OK() {
			status = "FAILED"
			detail = r.Error
		}
		code := "-"
		if r.StatusCode > 0 {
			code = strconv.Itoa(r.StatusCode)
		}
		rows = append(rows, []string{r.Name, status, code, truncate(detail, 80)})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ENDPOINT", "STATUS", "HTTP", "ARTIFACT / ERROR").
		Rows(rows...)

	var b strings.Builder
	b.WriteString(t.String())
	b.WriteString("\n")
	fmt.Fprintf(&b, "%d/%d endpoints succeeded", report.Succeeded(), report.Len())
	if failed := report.Failed(); failed > 0 {
		fmt.Fprintf(&b, ", %d failed", failed)
	}
	b.WriteString("\n")
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
