package jobs

// Status represents the lifecycle state of a scraping job. These values
// must match the text values stored in the database (scraping_jobs.status).
//
// Centralizing these here avoids scattering string literals like
// "in-progress" or "partial" across packages.
type Status string

const (
	StatusNew        Status = "new"
	StatusInProgress Status = "in-progress"
	StatusSuccessful Status = "successful"
	StatusPartial    Status = "partial"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether s is a final state. Terminal jobs never
// transition again.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccessful, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is one of the six known states.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusInProgress, StatusSuccessful, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// TerminalStatuses lists the final states in a stable order, for SQL
// filters and validation messages.
func TerminalStatuses() []Status {
	return []Status{StatusSuccessful, StatusPartial, StatusFailed, StatusCancelled}
}
