// Package reconcile turns open reconciliation issues into an operator worksheet.
package reconcile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"chefbook/internal/models"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Issues"

var headers = []string{"ID", "Booking", "Intent", "Kind", "Amount", "Status", "Created", "Detail"}

// Store lists and closes issues.
type Store interface {
	ListReconciliationIssues(ctx context.Context, status string) ([]*models.ReconciliationIssue, error)
	AcknowledgeIssue(ctx context.Context, id int64) error
}

type Exporter struct {
	store  Store
	dir    string
	now    func() time.Time
	logger *zerolog.Logger
}

func NewExporter(store Store, dir string, logger *zerolog.Logger) *Exporter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Exporter{store: store, dir: dir, now: time.Now, logger: logger}
}

// Export writes the issues with the given status (all when empty) to a new
// workbook in the export directory and returns its path and row count.
func (e *Exporter) Export(ctx context.Context, status string) (string, int, error) {
	issues, err := e.store.ListReconciliationIssues(ctx, status)
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", 0, errors.Wrap(err, "create export directory")
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", 0, errors.Wrap(err, "create sheet")
	}
	f.SetActiveSheet(index)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	openStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFC7CE"}, Pattern: 1},
	})
	for i, issue := range issues {
		row := i + 2
		values := []any{
			issue.ID,
			issue.BookingID,
			issue.IntentID,
			issue.Kind,
			issue.Amount,
			issue.Status,
			issue.CreatedAt.UTC().Format("2006-01-02 15:04"),
			issue.Detail,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}
		if issue.Status == models.IssueOpen {
			_ = f.SetCellStyle(sheetName, fmt.Sprintf("F%d", row), fmt.Sprintf("F%d", row), openStyle)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 8)
	_ = f.SetColWidth(sheetName, "B", "C", 38)
	_ = f.SetColWidth(sheetName, "D", "D", 28)
	_ = f.SetColWidth(sheetName, "E", "G", 16)
	_ = f.SetColWidth(sheetName, "H", "H", 80)
	_ = f.DeleteSheet("Sheet1")

	path := filepath.Join(e.dir, fmt.Sprintf("reconciliation_%s.xlsx", e.now().Format("2006-01-02_15-04-05")))
	if err := f.SaveAs(path); err != nil {
		return "", 0, errors.Wrap(err, "save workbook")
	}

	e.logger.Info().Str("file_path", path).Int("issues", len(issues)).Msg("reconciliation issues exported")
	return path, len(issues), nil
}

// Acknowledge marks issues as handled.
func (e *Exporter) Acknowledge(ctx context.Context, ids ...int64) error {
	for _, id := range ids {
		if err := e.store.AcknowledgeIssue(ctx, id); err != nil {
			return errors.Wrapf(err, "acknowledge issue %d", id)
		}
		e.logger.Info().Int64("issue_id", id).Msg("reconciliation issue acknowledged")
	}
	return nil
}
