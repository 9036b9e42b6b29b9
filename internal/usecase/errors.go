package usecase

import "errors"

var (
	// ErrAccountNotFound indicates the referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrPasswordPolicy indicates the new password violates the backend policy.
	ErrPasswordPolicy = errors.New("password does not satisfy policy")
	// ErrPasswordReused indicates the new password matches the current or a recent credential.
	ErrPasswordReused = errors.New("password was used recently")
	// ErrPolicyUnavailable indicates the directory policy could not be fetched.
	ErrPolicyUnavailable = errors.New("password policy unavailable")
	// ErrIdentifierRequired indicates neither a user id nor a username was supplied.
	ErrIdentifierRequired = errors.New("user id or username is required")
	// ErrPasswordRequired indicates the password was empty.
	ErrPasswordRequired = errors.New("password is required")
)
