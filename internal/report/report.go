package report

import (
	"bytes"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"staffline/internal/domain"
	"staffline/internal/repo"
)

const (
	assignmentsSheet = "Assignments"
	historySheet     = "History"
)

var assignmentHeaders = []string{"Employee", "Resource", "Project", "Client", "Role", "Start", "End", "Status"}

var historyHeaders = []string{"#", "Time", "Entity", "Entity ID", "Activity", "Actor", "Automatic", "Description"}

// Workbook is the content of a staffing export.
type Workbook struct {
	Assignments []repo.AssignmentDetail
	Events      []domain.Event
}

// Write renders the workbook as xlsx into w.
func Write(w io.Writer, wb Workbook) error {
	buf, err := WriteToBuffer(wb)
	if err != nil {
		return err
	}
	_, err = buf.WriteTo(w)
	return err
}

func WriteToBuffer(wb Workbook) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			log.WithError(err).Error("close workbook")
		}
	}()
	if err := f.SetSheetName("Sheet1", assignmentsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(historySheet); err != nil {
		return nil, err
	}
	if err := writeAssignments(f, wb.Assignments); err != nil {
		return nil, fmt.Errorf("assignments sheet: %w", err)
	}
	if err := writeHistory(f, wb.Events); err != nil {
		return nil, fmt.Errorf("history sheet: %w", err)
	}
	return f.WriteToBuffer()
}

func writeAssignments(f *excelize.File, rows []repo.AssignmentDetail) error {
	row, err := writeHeader(f, assignmentsSheet, assignmentHeaders)
	if err != nil {
		return err
	}
	for _, a := range rows {
		row++
		values := []any{a.EmployeeID, a.ResourceName, a.ProjectName, a.ClientName, a.Role, a.StartDate, a.EndDate, a.Status}
		if err := writeRow(f, assignmentsSheet, row, values); err != nil {
			return err
		}
	}
	return nil
}

func writeHistory(f *excelize.File, events []domain.Event) error {
	row, err := writeHeader(f, historySheet, historyHeaders)
	if err != nil {
		return err
	}
	for _, evt := range events {
		row++
		auto := ""
		if evt.Automatic {
			auto = "yes"
		}
		values := []any{evt.ID, evt.TS, evt.EntityType, evt.EntityID, evt.ActivityType, evt.ActorID, auto, evt.Description}
		if err := writeRow(f, historySheet, row, values); err != nil {
			return err
		}
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, headers []string) (int, error) {
	style, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "center"},
		Font:      &excelize.Font{Bold: true, Size: 11},
	})
	if err != nil {
		return 0, err
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return 0, err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return 0, err
	}
	lastCol, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return 0, err
	}
	if err := f.SetColWidth(sheet, "A", lastCol, 20); err != nil {
		return 0, err
	}
	values := make([]any, len(headers))
	for i, h := range headers {
		values[i] = h
	}
	return 1, writeRow(f, sheet, 1, values)
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}
