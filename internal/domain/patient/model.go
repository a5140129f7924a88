package patient

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("patient: not found")
	ErrDuplicateMRN = errors.New("patient: mrn already registered")
	ErrInvalid      = errors.New("patient: invalid record")
)

// Patient is the slice of the registration record billing needs: identity
// for invoice search and a contact line for statements.
type Patient struct {
	ID          uuid.UUID `db:"id" json:"id"`
	MRN         string    `db:"mrn" json:"mrn"`
	FirstName   string    `db:"first_name" json:"first_name"`
	LastName    string    `db:"last_name" json:"last_name"`
	PhoneMobile *string   `db:"phone_mobile" json:"phone_mobile,omitempty"`
	Email       *string   `db:"email" json:"email,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Contact returns the mobile number, else the email, else nil.
func (p *Patient) Contact() *string {
	if p.PhoneMobile != nil && *p.PhoneMobile != "" {
		return p.PhoneMobile
	}
	if p.Email != nil && *p.Email != "" {
		return p.Email
	}
	return nil
}
