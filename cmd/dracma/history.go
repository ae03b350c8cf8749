package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/ternarybob/dracma/internal/app"
	"github.com/ternarybob/dracma/internal/interfaces"
	"github.com/ternarybob/dracma/internal/models"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List recent runs, newest first, or show one run in detail",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of runs to show (0 = all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	application, err := app.OpenStorage(ctx, config, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	runs := application.Storage.RunStorage()
	if runs == nil {
		return fmt.Errorf("run history is disabled (storage.history = false)")
	}

	if len(args) == 1 {
		record, err := runs.GetRun(ctx, args[0])
		if errors.Is(err, interfaces.ErrRunNotFound) {
			return fmt.Errorf("no run with id %q", args[0])
		}
		if err != nil {
			return err
		}
		printRecord(cmd, record)
		return nil
	}

	records, err := runs.ListRuns(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), historyTable(records))
	return nil
}

func historyTable(records []*models.RunRecord) string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		report := models.FetchReport{Results: r.Results}
		rows = append(rows, []string{
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			string(r.Status),
			r.LoginState,
			strconv.Itoa(report.Succeeded()) + "/" + strconv.Itoa(report.Len()),
			r.Duration().Round(time.Second).String(),
		})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("RUN", "STARTED", "STATUS", "LOGIN", "ENDPOINTS", "DURATION").
		Rows(rows...).
		String()
}
