// Package policy decides which invocations may skip pairing.
package policy

import (
	"path/filepath"

	"github.com/ppiankov/sudopair/internal/config"
	"github.com/ppiankov/sudopair/internal/model"
)

// ExemptReason names the rule that exempted an invocation.
type ExemptReason string

const (
	ReasonNone        ExemptReason = ""
	ReasonSuperuser   ExemptReason = "superuser"
	ReasonApprover    ExemptReason = "approval_binary"
	ReasonNotEnforced ExemptReason = "not_enforced"
	ReasonExempted    ExemptReason = "exempted_group"
)

// Exemption is the outcome of evaluating the exemption rules.
type Exemption struct {
	Exempt bool
	Reason ExemptReason
}

// Evaluate decides whether inv may skip pairing.
//
// Rules, first match wins (order must not be changed):
//  1. invoked by root
//  2. the command is the approval binary itself
//  3. none of the user's groups are enforced
//  4. one of the user's groups is exempted
func Evaluate(inv *model.Invocation, s *config.Settings) Exemption {
	if inv.UID == 0 {
		return Exemption{Exempt: true, Reason: ReasonSuperuser}
	}
	if IsApprovalBinary(inv.Command, s.BinaryPath) {
		return Exemption{Exempt: true, Reason: ReasonApprover}
	}
	if !inv.InGroups(s.GidsEnforced) {
		return Exemption{Exempt: true, Reason: ReasonNotEnforced}
	}
	if inv.InGroups(s.GidsExempted) {
		return Exemption{Exempt: true, Reason: ReasonExempted}
	}
	return Exemption{}
}

// IsExempt reports whether inv may skip pairing.
func IsExempt(inv *model.Invocation, s *config.Settings) bool {
	return Evaluate(inv, s).Exempt
}

// IsApprovalBinary reports whether command resolves to the configured
// approval binary.
func IsApprovalBinary(command, binaryPath string) bool {
	if command == "" || binaryPath == "" {
		return false
	}
	return filepath.Clean(command) == filepath.Clean(binaryPath)
}
