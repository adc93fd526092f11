// Package export renders ledger snapshots as Excel workbooks.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"clinicbook/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	LedgerSheet  = "Ledger"
	SummarySheet = "Summary"

	timeLayout = "2006-01-02 15:04:05"
)

var ledgerHeaders = []string{
	"Reference", "Slot ID", "Slot", "First name", "Last name", "Email", "Phone",
	"Status", "Price", "Currency", "Created at (UTC)", "Status changed at (UTC)",
}

var statusColors = map[models.ReservationStatus]string{
	models.StatusPending:        "#FFF2CC",
	models.StatusPaymentClaimed: "#DDEBF7",
	models.StatusConfirmed:      "#E2EFDA",
	models.StatusDeclined:       "#F8CBAD",
	models.StatusCancelled:      "#F8CBAD",
}

// WriteLedgerXLSX writes the workbook to w.
func WriteLedgerXLSX(w io.Writer, rows []models.LedgerRow) error {
	f, err := buildWorkbook(rows)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// SaveLedgerXLSX stores the workbook under dir and returns its path.
func SaveLedgerXLSX(dir string, rows []models.LedgerRow, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := buildWorkbook(rows)
	if err != nil {
		return "", err
	}
	defer f.Close()

	filePath := filepath.Join(dir, fmt.Sprintf("ledger_%s.xlsx", now.UTC().Format("20060102_150405")))
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	return filePath, nil
}

func buildWorkbook(rows []models.LedgerRow) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(LedgerSheet)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	if err := writeLedger(f, rows); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := writeSummary(f, rows); err != nil {
		_ = f.Close()
		return nil, err
	}

	// Удаляем стандартный лист
	_ = f.DeleteSheet("Sheet1")
	return f, nil
}

func writeLedger(f *excelize.File, rows []models.LedgerRow) error {
	headerStyle, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#D9D9D9"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("error creating header style: %w", err)
	}

	for i, h := range ledgerHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(LedgerSheet, cell, h)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(ledgerHeaders))
	_ = f.SetCellStyle(LedgerSheet, "A1", lastCol+"1", headerStyle)

	styles := make(map[models.ReservationStatus]int)
	for status, color := range statusColors {
		id, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
		if err != nil {
			return fmt.Errorf("error creating status style: %w", err)
		}
		styles[status] = id
	}

	for i, r := range rows {
		rowNum := i + 2
		values := []interface{}{
			r.Reference,
			r.SlotID,
			r.SlotName,
			r.FirstName,
			r.LastName,
			r.Email,
			r.Phone,
			string(r.Status),
			float64(r.PriceCents) / 100,
			r.Currency,
			r.CreatedAt.UTC().Format(timeLayout),
			r.StatusChangedAt.UTC().Format(timeLayout),
		}
		start, _ := excelize.CoordinatesToCellName(1, rowNum)
		if err := f.SetSheetRow(LedgerSheet, start, &values); err != nil {
			return fmt.Errorf("error writing row %d: %w", rowNum, err)
		}

		if style, ok := styles[r.Status]; ok {
			cell, _ := excelize.CoordinatesToCellName(8, rowNum)
			_ = f.SetCellStyle(LedgerSheet, cell, cell, style)
		}
	}

	_ = f.SetColWidth(LedgerSheet, "A", "A", 28)
	_ = f.SetColWidth(LedgerSheet, "B", lastCol, 18)
	_ = f.SetPanes(LedgerSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	return nil
}

func writeSummary(f *excelize.File, rows []models.LedgerRow) error {
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("error creating summary sheet: %w", err)
	}

	type slotTotals struct {
		name   string
		counts map[models.ReservationStatus]int
	}
	totals := make(map[int64]*slotTotals)
	for _, r := range rows {
		t, ok := totals[r.SlotID]
		if !ok {
			t = &slotTotals{name: r.SlotName, counts: make(map[models.ReservationStatus]int)}
			totals[r.SlotID] = t
		}
		t.counts[r.Status]++
	}

	ids := make([]int64, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	statuses := []models.ReservationStatus{
		models.StatusPending, models.StatusPaymentClaimed, models.StatusConfirmed,
		models.StatusDeclined, models.StatusCancelled,
	}

	header := []interface{}{"Slot ID", "Slot"}
	for _, s := range statuses {
		header = append(header, string(s))
	}
	header = append(header, "live")
	if err := f.SetSheetRow(SummarySheet, "A1", &header); err != nil {
		return fmt.Errorf("error writing summary header: %w", err)
	}

	for i, id := range ids {
		t := totals[id]
		row := []interface{}{id, t.name}
		live := 0
		for _, s := range statuses {
			row = append(row, t.counts[s])
			if s.IsLive() {
				live += t.counts[s]
			}
		}
		row = append(row, live)
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return fmt.Errorf("error writing summary row: %w", err)
		}
	}
	return nil
}
