package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// InviteCodeLength is the fixed length of a group invite code.
const InviteCodeLength = 8

const inviteAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var upper = cases.Upper(language.Und)

// Group is a named set of identities sharing group-scoped tasks.
type Group struct {
	ID          string    `json:"id" bson:"_id"`
	Name        string    `json:"name" bson:"name"`
	Description string    `json:"description" bson:"description"`
	MemberIDs   []string  `json:"member_ids" bson:"member_ids"`
	AdminID     string    `json:"admin_id" bson:"admin_id"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
	Color       string    `json:"color" bson:"color"`
	InviteCode  string    `json:"invite_code" bson:"invite_code"`
	IsPrivate   bool      `json:"is_private" bson:"is_private"`

	// Members is resolved from MemberIDs when the group is loaded. Never persisted.
	Members []Identity `json:"members,omitempty" bson:"-"`
}

// HasMember reports whether id is in the member list.
func (g *Group) HasMember(id string) bool {
	for _, m := range g.MemberIDs {
		if m == id {
			return true
		}
	}
	return false
}

// AddMember appends id unless it is already present. It reports whether the list changed.
func (g *Group) AddMember(id string) bool {
	if g.HasMember(id) {
		return false
	}
	g.MemberIDs = append(g.MemberIDs, id)
	return true
}

// EnsureAdminMember puts the admin first in the member list if it is missing.
func (g *Group) EnsureAdminMember() {
	if g.AdminID == "" || g.HasMember(g.AdminID) {
		return
	}
	g.MemberIDs = append([]string{g.AdminID}, g.MemberIDs...)
}

// Clone returns a deep copy.
func (g Group) Clone() Group {
	c := g
	c.MemberIDs = append([]string(nil), g.MemberIDs...)
	c.Members = append([]Identity(nil), g.Members...)
	return c
}

// NormalizeInviteCode trims and upper-cases a user-entered code.
func NormalizeInviteCode(code string) string {
	return upper.String(strings.TrimSpace(code))
}

// NewInviteCode returns a random uppercase alphanumeric code of InviteCodeLength.
func NewInviteCode() (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(inviteAlphabet)))
	for i := 0; i < InviteCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate invite code: %w", err)
		}
		sb.WriteByte(inviteAlphabet[n.Int64()])
	}
	return sb.String(), nil
}
