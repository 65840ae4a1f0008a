package enums

import (
	"fmt"
	"strings"
)

// ChangeOperation is the row operation reported by the orders change feed.
type ChangeOperation string

const (
	ChangeOperationInsert ChangeOperation = "insert"
	ChangeOperationUpdate ChangeOperation = "update"
	ChangeOperationDelete ChangeOperation = "delete"
)

var validChangeOperations = []ChangeOperation{
	ChangeOperationInsert,
	ChangeOperationUpdate,
	ChangeOperationDelete,
}

func (c ChangeOperation) String() string {
	return string(c)
}

func (c ChangeOperation) IsValid() bool {
	for _, candidate := range validChangeOperations {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseChangeOperation accepts the trigger's TG_OP spelling as well (INSERT, UPDATE, DELETE).
func ParseChangeOperation(value string) (ChangeOperation, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validChangeOperations {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid change operation %q", value)
}
