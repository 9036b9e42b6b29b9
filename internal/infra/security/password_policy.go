package security

import (
	"strings"

	"github.com/arklim/dispense-auth/internal/core/domain"
	"github.com/arklim/dispense-auth/internal/core/port"
)

const defaultMinCharacterClasses = 3

// PolicyValidator builds a rule chain from a domain.PasswordPolicy on every call,
// so local and directory policies are enforced by the same rules.
type PolicyValidator struct{}

// NewPolicyValidator returns a stateless policy-driven validator.
func NewPolicyValidator() *PolicyValidator {
	return &PolicyValidator{}
}

// RulesFor translates a policy into validator rules.
func RulesFor(policy domain.PasswordPolicy, userInputs ...string) []PasswordRule {
	rules := make([]PasswordRule, 0, 3)
	if policy.MinLength > 0 {
		rules = append(rules, MinLengthRule(policy.MinLength))
	}
	if policy.RequireComplexity {
		classes := policy.MinCharClasses
		if classes <= 0 {
			classes = defaultMinCharacterClasses
		}
		rules = append(rules, RequireCharacterClassesRule(classes))
	}
	if policy.MinStrengthScore > 0 {
		rules = append(rules, RequirePasswordStrengthRule(policy.MinStrengthScore, userInputs...))
	}
	return rules
}

// Validate applies the rules derived from policy to password.
func (v *PolicyValidator) Validate(password string, policy domain.PasswordPolicy, userInputs ...string) error {
	inputs := make([]string, 0, len(userInputs))
	for _, in := range userInputs {
		if trimmed := strings.TrimSpace(in); trimmed != "" {
			inputs = append(inputs, trimmed)
		}
	}
	return NewPasswordValidator(RulesFor(policy, inputs...)...).Validate(password)
}

var _ port.PasswordPolicyValidator = (*PolicyValidator)(nil)
