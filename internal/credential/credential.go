// Package credential models the one-time assertion handed over by the external identity
// provider. The provider has already verified it; this package only reads it.
package credential

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingSubject is returned when an assertion carries no stable provider id.
var ErrMissingSubject = errors.New("credential has no subject")

// Credential is a verified external identity assertion.
type Credential struct {
	ProviderID string `json:"provider_id"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	Email      string `json:"email,omitempty"`
}

// DisplayName joins the name parts, falling back to "New User".
func (c Credential) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(c.GivenName) + " " + strings.TrimSpace(c.FamilyName))
	if name == "" {
		return "New User"
	}
	return name
}

// Validate checks that the assertion can identify someone.
func (c Credential) Validate() error {
	if strings.TrimSpace(c.ProviderID) == "" {
		return ErrMissingSubject
	}
	return nil
}

type identityClaims struct {
	Email      string `json:"email"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	jwt.RegisteredClaims
}

// FromIdentityToken reads an identity token issued by the provider. The signature is not
// checked here. Name parts are only sent by the provider on first authorization, so callers
// pass them separately and they override whatever the token carries.
func FromIdentityToken(token, givenName, familyName string) (Credential, error) {
	claims := &identityClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Credential{}, fmt.Errorf("parse identity token: %w", err)
	}

	c := Credential{
		ProviderID: claims.Subject,
		GivenName:  claims.GivenName,
		FamilyName: claims.FamilyName,
		Email:      claims.Email,
	}
	if givenName != "" {
		c.GivenName = givenName
	}
	if familyName != "" {
		c.FamilyName = familyName
	}
	if err := c.Validate(); err != nil {
		return Credential{}, err
	}
	return c, nil
}
