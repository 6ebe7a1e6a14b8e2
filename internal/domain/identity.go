package domain

import "time"

// Identity is a signed-in user record.
type Identity struct {
	ID         string    `json:"id" bson:"_id"`
	Name       string    `json:"name" bson:"name"`
	Email      string    `json:"email" bson:"email"`
	ProviderID string    `json:"provider_id,omitempty" bson:"provider_id,omitempty"`
	IsOnline   bool      `json:"is_online" bson:"is_online"`
	LastSeen   time.Time `json:"last_seen" bson:"last_seen"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
}

// Clone returns a copy of the identity.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}
