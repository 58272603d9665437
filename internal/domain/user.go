// Package domain contains entities without transport logic, just meta-data
package domain

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const MaxDisplayNameLen = 64

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

// User is the opaque identity of the person on this device.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// NewUser mints a fresh guest identity.
func NewUser(displayName string) (User, error) {
	u := User{ID: uuid.NewString()}
	if err := u.SetDisplayName(displayName); err != nil {
		return User{}, err
	}
	return u, nil
}

func (u *User) SetDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrDisplayNameEmpty
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	u.DisplayName = name
	return nil
}

// FirstName is what chat shows next to a message.
func (u User) FirstName() string {
	fields := strings.Fields(u.DisplayName)
	if len(fields) == 0 {
		return "User"
	}
	return fields[0]
}
