package export

import (
	"fmt"
	"os"

	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/locvowork/task_management_sample/internal/workspace"
	"gopkg.in/yaml.v2"
)

// Layout describes the workbook: one sheet per entry, each with its own task filter and
// column list.
type Layout struct {
	Sheets []SheetLayout `yaml:"sheets"`
}

// SheetLayout is one sheet of the workbook.
type SheetLayout struct {
	Name    string   `yaml:"name"`
	Filter  string   `yaml:"filter"` // all, pending, completed, high
	Columns []Column `yaml:"columns"`
}

// Column maps a task field onto a sheet column.
type Column struct {
	Field  string  `yaml:"field"`
	Header string  `yaml:"header"`
	Width  float64 `yaml:"width"`
	Format string  `yaml:"format"` // date, datetime, yesno
}

// DefaultLayout is used when no layout file is configured.
const DefaultLayout = `
sheets:
  - name: Tasks
    filter: all
    columns:
      - {field: title, header: Title, width: 40}
      - {field: status, header: Status, width: 14}
      - {field: priority, header: Priority, width: 10}
      - {field: due_date, header: Due, width: 12, format: date}
      - {field: assignee, header: Assigned To, width: 20}
      - {field: group, header: Group, width: 20}
      - {field: tags, header: Tags, width: 24}
      - {field: subtasks, header: Subtasks, width: 10}
      - {field: updated_at, header: Updated, width: 18, format: datetime}
  - name: Pending
    filter: pending
    columns:
      - {field: title, header: Title, width: 40}
      - {field: priority, header: Priority, width: 10}
      - {field: due_date, header: Due, width: 12, format: date}
      - {field: overdue, header: Overdue, width: 10, format: yesno}
`

var knownFields = map[string]bool{
	"id": true, "title": true, "description": true, "status": true, "priority": true,
	"completed": true, "overdue": true, "due_date": true, "assignee": true, "creator": true,
	"group": true, "tags": true, "subtasks": true, "comments": true, "created_at": true,
	"updated_at": true,
}

// ParseLayout decodes and validates a YAML layout.
func ParseLayout(data []byte) (*Layout, error) {
	var l Layout
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse export layout: %w: %w", domain.ErrInvalid, err)
	}
	if len(l.Sheets) == 0 {
		return nil, fmt.Errorf("export layout has no sheets: %w", domain.ErrInvalid)
	}
	seen := make(map[string]bool)
	for _, sheet := range l.Sheets {
		if sheet.Name == "" || seen[sheet.Name] {
			return nil, fmt.Errorf("export layout: missing or duplicate sheet name %q: %w", sheet.Name, domain.ErrInvalid)
		}
		seen[sheet.Name] = true
		if _, err := workspace.ParseFilter(sheet.Filter); err != nil {
			return nil, fmt.Errorf("export layout sheet %s: %w", sheet.Name, err)
		}
		for _, col := range sheet.Columns {
			if !knownFields[col.Field] {
				return nil, fmt.Errorf("export layout sheet %s: unknown field %q: %w", sheet.Name, col.Field, domain.ErrInvalid)
			}
		}
	}
	return &l, nil
}

// LoadLayout reads the layout at path, or DefaultLayout when path is empty.
func LoadLayout(path string) (*Layout, error) {
	if path == "" {
		return ParseLayout([]byte(DefaultLayout))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read export layout: %w", err)
	}
	return ParseLayout(data)
}
