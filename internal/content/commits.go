package content

import "strings"

// Commit type prefixes for the conventional-commit messages the Operation
// Engine writes for every vault mutation.
const (
	CommitTypeFeat  = "feat"
	CommitTypeFix   = "fix"
	CommitTypeChore = "chore"
)

// FormatCommitMessage builds a Conventional Commit message of the form
//
//	<type>(<scope>): <subject>
//
//	Powered-by: Scion
func FormatCommitMessage(ctype, scope, subject string) string {
	var sb strings.Builder
	if ctype == "" {
		ctype = CommitTypeChore
	}
	sb.WriteString(ctype)
	if scope != "" {
		sb.WriteString("(")
		sb.WriteString(scope)
		sb.WriteString(")")
	}
	sb.WriteString(": ")
	sb.WriteString(subject)
	sb.WriteString("\n\nPowered-by: Scion")
	return sb.String()
}
