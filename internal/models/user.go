package models

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// User is a resource owner. Credentials are held by the identity
// collaborator, not on this record.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name" validate:"required"`
	Phone     string    `json:"phone" validate:"required"`
	Avatar    string    `json:"avatar,omitempty" validate:"omitempty,url"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DecodeUser builds a user from a JSON object.
func DecodeUser(raw []byte) (*User, error) {
	u := &User{}
	if _, err := decodeObject(raw, u); err != nil {
		return nil, err
	}

	u.Normalize()

	return u, nil
}

// Normalize trims user supplied fields.
func (u *User) Normalize() {
	u.Name = norm.NFC.String(strings.TrimSpace(u.Name))
	u.Phone = strings.TrimSpace(u.Phone)
	u.Avatar = strings.TrimSpace(u.Avatar)
}

// Validate reports every invalid field as an errors.ValidationError.
func (u *User) Validate() error {
	return validateStruct(u)
}
