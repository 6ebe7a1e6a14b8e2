package memstore

import (
	"context"
	"testing"

	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/locvowork/task_management_sample/pkg/docstore/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.Store { return New() })
}

func TestCreateGroup_NormalizesInviteCode(t *testing.T) {
	s := New()
	ctx := context.Background()

	g, err := s.CreateGroup(ctx, &domain.Group{Name: "G", AdminID: "u1", InviteCode: "ab12cd34"})
	require.NoError(t, err)
	assert.Equal(t, "AB12CD34", g.InviteCode)

	found, err := s.FindGroupByInviteCode(ctx, domain.NormalizeInviteCode("ab12cd34"))
	require.NoError(t, err)
	assert.Equal(t, g.ID, found.ID)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()

	g, err := s.CreateGroup(ctx, &domain.Group{Name: "G", AdminID: "u1", InviteCode: "COPY0001"})
	require.NoError(t, err)
	g.MemberIDs[0] = "mutated"

	found, err := s.FindGroupByInviteCode(ctx, "COPY0001")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, found.MemberIDs)
}

func TestCreateTask_RepairsStatus(t *testing.T) {
	s := New()
	task, err := s.CreateTask(context.Background(), &domain.Task{Title: "t", IsCompleted: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, task.Status)
}
