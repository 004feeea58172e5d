package workflow

type Status string

const (
	StatusUnprocessed Status = "Unprocessed"
	StatusInProgress  Status = "InProgress"
	StatusPass        Status = "Pass"
	StatusFail        Status = "Fail"
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusPass || s == StatusFail
}
