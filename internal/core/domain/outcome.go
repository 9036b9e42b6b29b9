package domain

// Outcome is the closed set of authentication results.
type Outcome string

const (
	OutcomeSuccessful                     Outcome = "successful"
	OutcomeIncorrectPassword              Outcome = "incorrect_password"
	OutcomeAccountLocked                  Outcome = "account_locked"
	OutcomeAccountAlreadyLocked           Outcome = "account_already_locked"
	OutcomeAccountLocking                 Outcome = "account_locking"
	OutcomeAccountExpired                 Outcome = "account_expired"
	OutcomeAccountInactive                Outcome = "account_inactive"
	OutcomeChangePasswordRequired         Outcome = "change_password_required"
	OutcomePasswordExpired                Outcome = "password_expired"
	OutcomeTempPasswordExpired            Outcome = "temp_password_expired"
	OutcomeWarnAccountLockout             Outcome = "warn_account_lockout"
	OutcomeDomainError                    Outcome = "domain_error"
	OutcomeNotFound                       Outcome = "not_found"
	OutcomeRequestTimedOut                Outcome = "request_timed_out"
	OutcomeIdentityServerURLNotConfigured Outcome = "identity_server_url_not_configured"
	OutcomeIdentityServerNotReachable     Outcome = "identity_server_not_reachable"
	OutcomeCertificateRevokedOrInvalid    Outcome = "smart_card_certificate_revoked_or_invalid"
	OutcomeMultipleUserID                 Outcome = "multiple_user_id"
)

var outcomeMessages = map[Outcome]string{
	OutcomeSuccessful:                     "Authentication succeeded.",
	OutcomeIncorrectPassword:              "The user ID or password is incorrect.",
	OutcomeAccountLocked:                  "The account is locked. Contact an administrator.",
	OutcomeAccountAlreadyLocked:           "The account is already locked. Contact an administrator.",
	OutcomeAccountLocking:                 "Too many failed attempts. The account has been locked.",
	OutcomeAccountExpired:                 "The account has expired.",
	OutcomeAccountInactive:                "The account is inactive.",
	OutcomeChangePasswordRequired:         "The password must be changed before continuing.",
	OutcomePasswordExpired:                "The password has expired and must be changed.",
	OutcomeTempPasswordExpired:            "The temporary password has expired. Contact an administrator to reset it.",
	OutcomeWarnAccountLockout:             "The user ID or password is incorrect. One more failed attempt will lock the account.",
	OutcomeDomainError:                    "The directory service could not complete the request.",
	OutcomeNotFound:                       "The user was not found in the directory.",
	OutcomeRequestTimedOut:                "The identity server did not respond in time.",
	OutcomeIdentityServerURLNotConfigured: "The identity server address is not configured.",
	OutcomeIdentityServerNotReachable:     "The identity server is not reachable.",
	OutcomeCertificateRevokedOrInvalid:    "The smart card certificate is revoked or invalid.",
	OutcomeMultipleUserID:                 "More than one directory entry matches the user ID.",
}

// Message returns the user-facing wording for the outcome.
func (o Outcome) Message() string {
	if msg, ok := outcomeMessages[o]; ok {
		return msg
	}
	return "Authentication failed."
}

// IsKnown reports whether o belongs to the closed outcome set.
func (o Outcome) IsKnown() bool {
	_, ok := outcomeMessages[o]
	return ok
}

// IsAuthenticated reports whether the caller may proceed to a follow-up step.
func (o Outcome) IsAuthenticated() bool {
	switch o {
	case OutcomeSuccessful, OutcomeChangePasswordRequired, OutcomePasswordExpired:
		return true
	default:
		return false
	}
}

// AllowsLocalFallback reports whether a directory outcome may be retried against the cached local credential.
func (o Outcome) AllowsLocalFallback() bool {
	switch o {
	case OutcomeDomainError,
		OutcomeNotFound,
		OutcomeIdentityServerURLNotConfigured,
		OutcomeIdentityServerNotReachable,
		OutcomeRequestTimedOut:
		return true
	default:
		return false
	}
}

// IsFailedAttempt reports whether the outcome counts toward lockout.
func (o Outcome) IsFailedAttempt() bool {
	switch o {
	case OutcomeIncorrectPassword, OutcomeWarnAccountLockout, OutcomeAccountLocking:
		return true
	default:
		return false
	}
}

// FailureReason is the detail code stored with failed results and events.
type FailureReason string

const (
	ReasonNone                FailureReason = ""
	ReasonBadPassword         FailureReason = "bad_password"
	ReasonAccountInactive     FailureReason = "account_inactive"
	ReasonAccountExpired      FailureReason = "account_expired"
	ReasonAccountLocked       FailureReason = "account_locked"
	ReasonPasswordExpired     FailureReason = "password_expired"
	ReasonTempPasswordExpired FailureReason = "temp_password_expired"
	ReasonNoCredential        FailureReason = "no_credential"
	ReasonNoCachedCredential  FailureReason = "no_cached_credential"
	ReasonDirectoryError      FailureReason = "directory_unavailable"
	ReasonUserNotFound        FailureReason = "user_not_found"
	ReasonDomainNotFound      FailureReason = "domain_not_found"
	ReasonIdentityServer      FailureReason = "identity_server"
	ReasonCertificate         FailureReason = "certificate"
	ReasonAmbiguousUser       FailureReason = "ambiguous_user"
)

const noCachedCredentialMessage = "The directory is unavailable and no cached credential exists for this user."

// AuthenticationResult is the structured answer of every authentication path.
type AuthenticationResult struct {
	Outcome Outcome
	Reason  FailureReason
	Message string
	Account *UserAccount
}

// NewResult builds a result with the centrally defined message for outcome.
func NewResult(outcome Outcome, reason FailureReason, account *UserAccount) AuthenticationResult {
	message := outcome.Message()
	if reason == ReasonNoCachedCredential {
		message = noCachedCredentialMessage
	}
	return AuthenticationResult{
		Outcome: outcome,
		Reason:  reason,
		Message: message,
		Account: account,
	}
}

// Success is shorthand for a successful result.
func Success(account *UserAccount) AuthenticationResult {
	return NewResult(OutcomeSuccessful, ReasonNone, account)
}

// IsAuthenticated reports whether the result lets the caller continue.
func (r AuthenticationResult) IsAuthenticated() bool {
	return r.Outcome.IsAuthenticated()
}

// DirectoryStatus is the directory-native answer before translation into an Outcome.
type DirectoryStatus string

const (
	DirectorySuccess            DirectoryStatus = "success"
	DirectoryFailed             DirectoryStatus = "failed"
	DirectoryExpired            DirectoryStatus = "expired"
	DirectoryMustChange         DirectoryStatus = "must_change"
	DirectoryDisabled           DirectoryStatus = "disabled"
	DirectoryLocked             DirectoryStatus = "locked"
	DirectoryAccountExpired     DirectoryStatus = "account_expired"
	DirectoryLastAttemptWarning DirectoryStatus = "last_attempt_warning"
	DirectoryNotFound           DirectoryStatus = "not_found"
	DirectoryMultipleMatches    DirectoryStatus = "multiple_matches"
	DirectoryURLNotConfigured   DirectoryStatus = "url_not_configured"
	DirectoryUnreachable        DirectoryStatus = "unreachable"
	DirectoryTimedOut           DirectoryStatus = "timed_out"
	DirectoryCertificateInvalid DirectoryStatus = "certificate_invalid"
	DirectoryError              DirectoryStatus = "error"
)
