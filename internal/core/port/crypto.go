package port

import "github.com/arklim/dispense-auth/internal/core/domain"

// PasswordPolicyValidator enforces password strength requirements.
type PasswordPolicyValidator interface {
	Validate(password string, policy domain.PasswordPolicy, userInputs ...string) error
}

// PasswordHasher hashes and verifies secrets with a single algorithm.
type PasswordHasher interface {
	Algorithm() domain.HashAlgorithm
	Hash(password string) (hash string, salt string, err error)
	Verify(password, hash, salt string) (bool, error)
}

// HasherRegistry resolves hashers by the algorithm recorded on a credential.
type HasherRegistry interface {
	Current() PasswordHasher
	ForAlgorithm(algo domain.HashAlgorithm) (PasswordHasher, error)
}

// SecretDecrypter reveals secrets stored encrypted at rest, such as directory system-account passwords.
type SecretDecrypter interface {
	Decrypt(ciphertext string) (string, error)
}
