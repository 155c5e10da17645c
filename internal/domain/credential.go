package domain

import "time"

// Credential is the OAuth access material for one (user, provider) pair.
type Credential struct {
	UserID            string
	Provider          Provider
	AccessToken       string
	RefreshToken      string
	ExpiresAt         time.Time // zero means the token never expires
	ProviderAthleteID string
	Scope             string
	UpdatedAt         time.Time
}

// Key returns the credential identity.
func (c Credential) Key() CredentialKey {
	return CredentialKey{UserID: c.UserID, Provider: c.Provider}
}

// Expires reports whether the credential carries an expiry at all.
func (c Credential) Expires() bool {
	return !c.ExpiresAt.IsZero()
}

// ExpiresBefore reports whether the credential expires strictly before t.
func (c Credential) ExpiresBefore(t time.Time) bool {
	return c.Expires() && c.ExpiresAt.Before(t)
}

// Refreshable reports whether a refresh grant can be attempted.
func (c Credential) Refreshable() bool {
	return c.RefreshToken != ""
}

// CredentialKey identifies a credential.
type CredentialKey struct {
	UserID   string
	Provider Provider
}

func (k CredentialKey) String() string {
	return k.UserID + ":" + string(k.Provider)
}

// SealedCredential is the at-rest form of a Credential. Token fields hold ciphertext.
type SealedCredential struct {
	UserID            string
	Provider          Provider
	AccessToken       string
	RefreshToken      string
	ExpiresAt         time.Time
	ProviderAthleteID string
	Scope             string
	UpdatedAt         time.Time
}

// AthleteProfile is the provider-side identity of a connected user.
type AthleteProfile struct {
	UserID            string
	Provider          Provider
	ProviderAthleteID string
	FirstName         string
	LastName          string
	DisplayName       string
	City              string
	State             string
	Country           string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Name returns the best available display name.
func (p AthleteProfile) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	}
	return p.LastName
}
