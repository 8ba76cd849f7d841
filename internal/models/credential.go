package models

import (
	"time"

	"gorm.io/gorm"
)

// ProviderCredential holds a user's refreshable credential for the external
// live platform. Credential CRUD is managed outside this core; the
// coordinator only reads tokens and persists refreshed access tokens.
type ProviderCredential struct {
	BaseModel

	// UserID is the owning user.
	UserID ULID `gorm:"uniqueIndex;not null;type:varchar(26)" json:"user_id"`

	// AccessToken is the short-lived bearer token. Redacted from logs.
	AccessToken string `gorm:"size:2048" json:"-" masq:"secret"`

	// RefreshToken is the long-lived token used to mint access tokens.
	RefreshToken string `gorm:"not null;size:2048" json:"-" masq:"secret"`

	// AccessTokenExpiry is when the current access token stops working.
	AccessTokenExpiry *Time `json:"access_token_expiry,omitempty"`
}

// TableName returns the table name for ProviderCredential.
func (ProviderCredential) TableName() string {
	return "provider_credentials"
}

// AccessTokenValid reports whether the cached access token can still be used.
// A small skew margin avoids using a token that expires mid-request.
func (c *ProviderCredential) AccessTokenValid(now time.Time) bool {
	if c.AccessToken == "" || c.AccessTokenExpiry == nil {
		return false
	}
	return now.Add(30 * time.Second).Before(*c.AccessTokenExpiry)
}

// Validate performs basic validation on the credential.
func (c *ProviderCredential) Validate() error {
	if c.UserID.IsZero() {
		return ErrUserRequired
	}
	if c.RefreshToken == "" {
		return ErrTokenRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the credential and generates its ULID.
func (c *ProviderCredential) BeforeCreate(tx *gorm.DB) error {
	if err := c.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return c.Validate()
}
