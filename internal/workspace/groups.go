package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/locvowork/task_management_sample/internal/logger"
)

// inviteCodeAttempts bounds regeneration of a generated invite code that collides.
const inviteCodeAttempts = 3

// AddGroup creates a group administered by the acting identity, who becomes its first
// member. An empty invite code is generated.
func (w *Workspace) AddGroup(ctx context.Context, group domain.Group) (*domain.Group, error) {
	me, err := w.actingIdentity()
	if err != nil {
		return nil, err
	}
	group.Name = strings.TrimSpace(group.Name)
	if group.Name == "" {
		return nil, fmt.Errorf("add group: name is required: %w", domain.ErrInvalid)
	}

	generated := strings.TrimSpace(group.InviteCode) == ""
	if generated {
		if group.InviteCode, err = domain.NewInviteCode(); err != nil {
			return nil, fmt.Errorf("add group: %w", err)
		}
	}
	group = group.Clone()
	group.ID = w.newID()
	group.InviteCode = domain.NormalizeInviteCode(group.InviteCode)
	group.AdminID = me.ID
	group.MemberIDs = []string{me.ID}
	group.Members = []domain.Identity{me}
	group.CreatedAt = w.now()

	local := group.Clone()
	p := w.stageGroupCreate(&local)

	var created *domain.Group
	for attempt := 1; ; attempt++ {
		toCreate := group.Clone()
		toCreate.ID = ""
		toCreate.Members = nil
		created, err = w.store.CreateGroup(ctx, &toCreate)
		if err == nil || !generated || !errors.Is(err, domain.ErrConflict) || attempt == inviteCodeAttempts {
			break
		}
		logger.DebugLog(ctx, fmt.Sprintf("invite code %s taken, regenerating", group.InviteCode))
		if group.InviteCode, err = domain.NewInviteCode(); err != nil {
			break
		}
	}
	if err != nil {
		w.settleGroup(p, false, nil)
		return nil, remoteErr("add group", err)
	}

	confirmed := created.Clone()
	confirmed.Members = []domain.Identity{me}
	w.settleGroup(p, true, func() { w.groups[confirmed.ID] = confirmed.Clone() })
	return &confirmed, nil
}

// DeleteGroup removes a group and its tasks. Only the group's admin may delete it; a group
// the store no longer has counts as deleted.
func (w *Workspace) DeleteGroup(ctx context.Context, id string) error {
	me, err := w.actingIdentity()
	if err != nil {
		return err
	}
	if isLocalID(id) {
		return fmt.Errorf("delete group: group %s is still being created: %w", id, domain.ErrConflict)
	}
	g, ok := w.Group(id)
	if !ok {
		return fmt.Errorf("delete group: group %s: %w", id, domain.ErrNotFound)
	}
	if g.AdminID != me.ID {
		return fmt.Errorf("delete group: only the admin can delete %s: %w", g.Name, domain.ErrForbidden)
	}

	p := w.stageGroup(id, nil)
	err = w.store.DeleteGroup(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		w.settleGroup(p, false, nil)
		return remoteErr("delete group", err)
	}
	w.settleGroup(p, true, func() {
		delete(w.groups, id)
		delete(w.groupScope, id)
		for taskID, t := range w.grouped {
			if t.GroupID == id {
				delete(w.grouped, taskID)
			}
		}
		for taskID, t := range w.personal {
			if t.GroupID == id {
				delete(w.personal, taskID)
			}
		}
	})
	return nil
}

// AddMemberToGroup adds identityID to a visible group and notifies them.
func (w *Workspace) AddMemberToGroup(ctx context.Context, groupID, identityID string) (*domain.Group, error) {
	me, err := w.actingIdentity()
	if err != nil {
		return nil, err
	}
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return nil, fmt.Errorf("add member: identity is required: %w", domain.ErrInvalid)
	}
	if isLocalID(groupID) {
		return nil, fmt.Errorf("add member: group %s is still being created: %w", groupID, domain.ErrConflict)
	}
	g, ok := w.Group(groupID)
	if !ok {
		return nil, fmt.Errorf("add member: group %s: %w", groupID, domain.ErrNotFound)
	}
	if g.HasMember(identityID) {
		return nil, fmt.Errorf("add member: %s already in %s: %w", identityID, g.Name, domain.ErrConflict)
	}

	updated, err := w.addMember(ctx, "add member", g, identityID, nil)
	if err != nil {
		return nil, err
	}
	w.notify(ctx, domain.Notification{
		Title:       "Group invitation",
		Message:     fmt.Sprintf("%s added you to %s", me.Name, updated.Name),
		Type:        domain.NotificationGroupInvite,
		RecipientID: identityID,
		SenderID:    me.ID,
		GroupID:     updated.ID,
	})
	return updated, nil
}

// JoinGroupByInviteCode adds the acting identity to the group whose invite code matches code,
// compared after trimming and upper-casing. The group's admin is notified.
func (w *Workspace) JoinGroupByInviteCode(ctx context.Context, code string) (*domain.Group, error) {
	me, err := w.actingIdentity()
	if err != nil {
		return nil, err
	}
	code = domain.NormalizeInviteCode(code)
	if code == "" {
		return nil, fmt.Errorf("join group: empty invite code: %w", domain.ErrNotFound)
	}
	found, err := w.store.FindGroupByInviteCode(ctx, code)
	if err != nil {
		return nil, remoteErr("join group", err)
	}
	if found.HasMember(me.ID) {
		return nil, fmt.Errorf("join group: already a member of %s: %w", found.Name, domain.ErrConflict)
	}

	g := found.Clone()
	if len(g.Members) == 0 && len(g.MemberIDs) > 0 {
		if resolved, err := w.resolveMembers(ctx, []domain.Group{g}); err == nil {
			g = resolved[0]
		}
	}
	joined, err := w.addMember(ctx, "join group", g, me.ID, &me)
	if err != nil {
		return nil, err
	}

	logger.InfoLog(ctx, fmt.Sprintf("joined group %s", joined.ID))
	w.notify(ctx, domain.Notification{
		Title:       "New member",
		Message:     fmt.Sprintf("%s joined %s", me.Name, joined.Name),
		Type:        domain.NotificationGroupInvite,
		RecipientID: joined.AdminID,
		SenderID:    me.ID,
		GroupID:     joined.ID,
	})
	return joined, nil
}

// addMember stages g plus identityID, runs the atomic remote add, then folds the store's
// member list with resolved identities. known is used locally when the identity is at hand.
func (w *Workspace) addMember(ctx context.Context, op string, g domain.Group, identityID string, known *domain.Identity) (*domain.Group, error) {
	local := g.Clone()
	local.AddMember(identityID)
	if known != nil {
		local.Members = append(local.Members, *known)
	}
	p := w.stageGroup(g.ID, &local)

	updated, err := w.store.AddMember(ctx, g.ID, identityID)
	if err != nil {
		w.settleGroup(p, false, nil)
		return nil, remoteErr(op, err)
	}

	confirmed := updated.Clone()
	if resolved, err := w.resolveMembers(ctx, []domain.Group{confirmed}); err == nil {
		confirmed = resolved[0]
	} else {
		logger.WarnLog(ctx, fmt.Sprintf("%s: resolve members of %s: %v", op, g.ID, err))
		confirmed.Members = local.Members
	}
	w.settleGroup(p, true, func() { w.groups[confirmed.ID] = confirmed.Clone() })
	return &confirmed, nil
}
