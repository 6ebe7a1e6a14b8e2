// Package export writes the workspace's tasks to an .xlsx workbook through excelize's stream
// writer, one sheet per layout entry.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/locvowork/task_management_sample/internal/workspace"
	"github.com/xuri/excelize/v2"
)

// ContentType is the MIME type of the produced workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Data is what a workbook is rendered from. Groups and People map ids to display names.
type Data struct {
	Tasks  []domain.Task
	Groups map[string]string
	People map[string]string
	Now    time.Time
}

// Exporter renders Data with a fixed Layout.
type Exporter struct {
	layout *Layout
}

// New returns an Exporter for layout.
func New(layout *Layout) *Exporter {
	return &Exporter{layout: layout}
}

// Write renders the workbook to w.
func (e *Exporter) Write(w io.Writer, data Data) error {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"E0E0E0"}},
	})
	if err != nil {
		return fmt.Errorf("export header style: %w", err)
	}

	writers := make([]*excelize.StreamWriter, 0, len(e.layout.Sheets))
	for i, sheet := range e.layout.Sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet.Name); err != nil {
				return fmt.Errorf("export sheet %s: %w", sheet.Name, err)
			}
		} else if _, err := f.NewSheet(sheet.Name); err != nil {
			return fmt.Errorf("export sheet %s: %w", sheet.Name, err)
		}
		sw, err := f.NewStreamWriter(sheet.Name)
		if err != nil {
			return fmt.Errorf("export sheet %s: %w", sheet.Name, err)
		}
		if err := writeSheet(sw, sheet, headerStyle, data); err != nil {
			return fmt.Errorf("export sheet %s: %w", sheet.Name, err)
		}
		writers = append(writers, sw)
	}
	for _, sw := range writers {
		if err := sw.Flush(); err != nil {
			return fmt.Errorf("export flush: %w", err)
		}
	}
	return f.Write(w)
}

func writeSheet(sw *excelize.StreamWriter, sheet SheetLayout, headerStyle int, data Data) error {
	for i, col := range sheet.Columns {
		if col.Width > 0 {
			if err := sw.SetColWidth(i+1, i+1, col.Width); err != nil {
				return err
			}
		}
	}

	header := make([]interface{}, len(sheet.Columns))
	for i, col := range sheet.Columns {
		title := col.Header
		if title == "" {
			title = col.Field
		}
		header[i] = excelize.Cell{StyleID: headerStyle, Value: title}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	filter, _ := workspace.ParseFilter(sheet.Filter)
	row := 2
	for i := range data.Tasks {
		t := &data.Tasks[i]
		if !filter.Match(t) {
			continue
		}
		values := make([]interface{}, len(sheet.Columns))
		for j, col := range sheet.Columns {
			values[j] = format(col.Format, value(col.Field, t, data))
		}
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, values); err != nil {
			return err
		}
		row++
	}
	return nil
}

func value(field string, t *domain.Task, data Data) interface{} {
	switch field {
	case "id":
		return t.ID
	case "title":
		return t.Title
	case "description":
		return t.Description
	case "status":
		return string(t.Status)
	case "priority":
		return t.Priority.String()
	case "completed":
		return t.IsCompleted
	case "overdue":
		return t.IsOverdue(data.Now)
	case "due_date":
		if t.DueDate == nil {
			return nil
		}
		return *t.DueDate
	case "assignee":
		return nameOr(data.People, t.AssignedTo)
	case "creator":
		return nameOr(data.People, t.CreatedBy)
	case "group":
		if t.GroupID == "" {
			return "Personal"
		}
		return nameOr(data.Groups, t.GroupID)
	case "tags":
		return strings.Join(t.Tags, ", ")
	case "subtasks":
		done := 0
		for _, s := range t.Subtasks {
			if s.IsCompleted {
				done++
			}
		}
		return fmt.Sprintf("%d/%d", done, len(t.Subtasks))
	case "comments":
		return len(t.Comments)
	case "created_at":
		return t.CreatedAt
	case "updated_at":
		return t.UpdatedAt
	}
	return nil
}

func nameOr(names map[string]string, id string) string {
	if name, ok := names[id]; ok && name != "" {
		return name
	}
	return id
}

func format(kind string, v interface{}) interface{} {
	switch kind {
	case "date":
		if at, ok := v.(time.Time); ok {
			return at.Format("2006-01-02")
		}
	case "datetime":
		if at, ok := v.(time.Time); ok {
			return at.Format("2006-01-02 15:04")
		}
	case "yesno":
		if b, ok := v.(bool); ok {
			if b {
				return "Yes"
			}
			return "No"
		}
	}
	if v == nil {
		return ""
	}
	return v
}
