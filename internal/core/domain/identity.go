package domain

import "time"

// UserAccount is the identity view of a dispensing-platform user.
type UserAccount struct {
	ID            string
	Username      string
	FirstName     string
	LastName      string
	IsActive      bool
	IsLocked      bool
	ExpiresAt     *time.Time
	DomainID      *string
	IsSupportUser bool
	IsTemporary   bool
	ScanCode      *string
	CreatedAt     time.Time
	LockedAt      *time.Time
}

// DisplayName joins the name parts for log and API output.
func (a UserAccount) DisplayName() string {
	switch {
	case a.FirstName == "" && a.LastName == "":
		return a.Username
	case a.FirstName == "":
		return a.LastName
	case a.LastName == "":
		return a.FirstName
	default:
		return a.FirstName + " " + a.LastName
	}
}

// IsDirectoryManaged reports whether the account authenticates against a directory domain.
func (a UserAccount) IsDirectoryManaged() bool {
	return a.DomainID != nil && *a.DomainID != ""
}

// IsExpired reports whether the account expiration has passed at now.
func (a UserAccount) IsExpired(now time.Time) bool {
	return a.ExpiresAt != nil && !now.Before(*a.ExpiresAt)
}

// Credentials is the secret material presented by a caller.
type Credentials struct {
	Username string
	Password string
	DeviceID *string
}

// HashAlgorithm identifies the encoding of a stored password hash.
type HashAlgorithm string

const (
	HashAlgorithmArgon2id HashAlgorithm = "argon2id"
	HashAlgorithmBcrypt   HashAlgorithm = "bcrypt"
	// HashAlgorithmSHA256 is the legacy salted digest kept only for verification.
	HashAlgorithmSHA256 HashAlgorithm = "sha256"
)

// PasswordChange records whether the owner ever set the password personally.
// The zero value means the password was never changed by its owner.
type PasswordChange struct {
	at      time.Time
	changed bool
}

// NeverChanged marks a credential set by an administrator or a directory.
func NeverChanged() PasswordChange {
	return PasswordChange{}
}

// ChangedAt marks a credential the owner chose at the given time.
func ChangedAt(at time.Time) PasswordChange {
	return PasswordChange{at: at.UTC(), changed: true}
}

// Time returns the change time and whether the owner ever changed the password.
func (p PasswordChange) Time() (time.Time, bool) {
	return p.at, p.changed
}

// IsUserChanged reports whether the owner set the password.
func (p PasswordChange) IsUserChanged() bool {
	return p.changed
}

// Credential is one stored password for an account.
type Credential struct {
	ID         string
	UserID     string
	Hash       string
	Salt       string
	Algorithm  HashAlgorithm
	CreatedAt  time.Time
	IsInitial  bool
	UserChange PasswordChange
}

// DirectoryKind distinguishes enterprise directories from federated identity servers.
type DirectoryKind string

const (
	DirectoryKindLDAP      DirectoryKind = "ldap"
	DirectoryKindFederated DirectoryKind = "federated"
)

// DirectoryDomain describes a remote credential backend.
type DirectoryDomain struct {
	ID                string
	FQDN              string
	Kind              DirectoryKind
	SystemAccount     string
	EncryptedPassword string
	UseTLS            bool
	Port              int
	IdentityServerURL string
	ClientID          string
	IsActive          bool
	IsPollingEnabled  bool
	IsSupportDomain   bool
}

// BackendKind names the authenticator variant selected for an account.
type BackendKind string

const (
	BackendLocal     BackendKind = "local"
	BackendDirectory BackendKind = "directory"
	BackendFederated BackendKind = "federated"
)
