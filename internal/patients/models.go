package patients

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("patients: not found")

// Patient is the slice of the clinic's patient record this service reads.
// Patient CRUD is owned by the admin system.
type Patient struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	PhoneDigits string `json:"-"`

	// NextActionDate/NextActionType are the legacy inline callback obligation.
	NextActionDate *time.Time `json:"nextActionDate,omitempty"`
	NextActionType string     `json:"nextActionType,omitempty"`

	LastContactAt     *time.Time `json:"lastContactAt,omitempty"`
	LastCallDirection string     `json:"lastCallDirection,omitempty"`
	CallCount         int        `json:"callCount"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasNextAction reports whether an inline obligation is set.
func (p Patient) HasNextAction() bool { return p.NextActionDate != nil }
