package domain

import (
	"fmt"
	"strings"
)

// IsolationLevel is the concurrency-control strength requested for a transaction.
type IsolationLevel int

const (
	IsolationUnspecified IsolationLevel = iota
	IsolationReadUncommitted
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
	IsolationSnapshot
	IsolationChaos
)

var isolationNames = map[IsolationLevel]string{
	IsolationUnspecified:     "unspecified",
	IsolationReadUncommitted: "read_uncommitted",
	IsolationReadCommitted:   "read_committed",
	IsolationRepeatableRead:  "repeatable_read",
	IsolationSerializable:    "serializable",
	IsolationSnapshot:        "snapshot",
	IsolationChaos:           "chaos",
}

func (l IsolationLevel) String() string {
	if name, ok := isolationNames[l]; ok {
		return name
	}
	return fmt.Sprintf("isolation(%d)", int(l))
}

// IsValid checks if the isolation level is one of the known levels
func (l IsolationLevel) IsValid() bool {
	_, ok := isolationNames[l]
	return ok
}

// ParseIsolationLevel accepts the names returned by String, case-insensitively,
// with either '_', '-' or ' ' as separator. An empty string is Unspecified.
func ParseIsolationLevel(s string) (IsolationLevel, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	if norm == "" {
		return IsolationUnspecified, nil
	}
	for level, name := range isolationNames {
		if name == norm {
			return level, nil
		}
	}
	return IsolationUnspecified, NewDomainErrorWithCause(ErrCodeValidation, ErrUnsupportedIsolation.Message,
		fmt.Errorf("unknown isolation level %q", s))
}
