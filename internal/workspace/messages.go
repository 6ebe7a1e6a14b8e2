package workspace

import (
	"errors"

	"github.com/locvowork/task_management_sample/internal/domain"
)

// JoinFailureMessage turns a JoinGroupByInviteCode error into the text shown to the user.
func JoinFailureMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrNotFound):
		return "Invalid invite code. Please check the code and try again."
	case errors.Is(err, domain.ErrConflict):
		return "You are already a member of this group."
	case errors.Is(err, domain.ErrUnauthenticated):
		return "Please sign in to join a group."
	default:
		return "Failed to join group. Please try again."
	}
}
