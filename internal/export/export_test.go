package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var now = time.Date(2025, 6, 25, 9, 0, 0, 0, time.UTC)

func sampleData() Data {
	due := now.Add(-24 * time.Hour)
	return Data{
		Now: now,
		Tasks: []domain.Task{
			{ID: "t1", Title: "Ship release", Status: domain.StatusInProgress, Priority: domain.PriorityHigh,
				DueDate: &due, AssignedTo: "u1", GroupID: "g1", Tags: []string{"release", "q3"},
				Subtasks: []domain.Subtask{{ID: "s1", IsCompleted: true}, {ID: "s2"}}, UpdatedAt: now},
			{ID: "t2", Title: "Water plants", Status: domain.StatusCompleted, IsCompleted: true, AssignedTo: "u2", UpdatedAt: now},
		},
		Groups: map[string]string{"g1": "Platform"},
		People: map[string]string{"u1": "Ann"},
	}
}

func TestExporter_DefaultLayout(t *testing.T) {
	layout, err := LoadLayout("")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, New(layout).Write(&buf, sampleData()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Tasks", "Pending"}, f.GetSheetList())

	rows, err := f.GetRows("Tasks")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Title", "Status", "Priority", "Due", "Assigned To", "Group", "Tags", "Subtasks", "Updated"}, rows[0])
	assert.Equal(t, []string{"Ship release", "inProgress", "High", "2025-06-24", "Ann", "Platform", "release, q3", "1/2", "2025-06-25 09:00"}, rows[1])
	assert.Equal(t, "u2", rows[2][4])
	assert.Equal(t, "Personal", rows[2][5])

	pending, err := f.GetRows("Pending")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, []string{"Ship release", "High", "2025-06-24", "Yes"}, pending[1])
}

func TestParseLayout_Rejects(t *testing.T) {
	for name, doc := range map[string]string{
		"no sheets":     "sheets: []",
		"bad filter":    "sheets: [{name: A, filter: someday}]",
		"unknown field": "sheets: [{name: A, columns: [{field: secret}]}]",
		"duplicate":     "sheets: [{name: A}, {name: A}]",
		"not yaml":      "sheets: [",
	} {
		_, err := ParseLayout([]byte(doc))
		assert.ErrorIs(t, err, domain.ErrInvalid, name)
	}
}
