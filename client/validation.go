package client

import (
	"fmt"
	"strings"
)

// a client-side field constraint violation. reported inline per field and
// never sent to the store.
type FieldError struct {
	Field   string
	Message string
}

func (self *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", self.Field, self.Message)
}

func fieldError(field string, format string, a ...any) *FieldError {
	return &FieldError{
		Field:   field,
		Message: fmt.Sprintf(format, a...),
	}
}

const (
	minNameLength     = 3
	maxNameLength     = 30
	minUsernameLength = 3
	maxUsernameLength = 30
	minEmailLength    = 8
	minPasswordLength = 8
)

func validUsernameChar(c rune) bool {
	switch {
	case 'a' <= c && c <= 'z':
		return true
	case '0' <= c && c <= '9':
		return true
	case c == '_' || c == '-':
		return true
	default:
		return false
	}
}

func ValidateSignup(signup *SignupArgs) []*FieldError {
	fieldErrors := []*FieldError{}

	if len(signup.Name) < minNameLength {
		fieldErrors = append(fieldErrors, fieldError("name", "name is too short. enter at least %d characters.", minNameLength))
	} else if maxNameLength < len(signup.Name) {
		fieldErrors = append(fieldErrors, fieldError("name", "name is too long. enter a max of %d characters.", maxNameLength))
	}

	username := NormalizeUsername(signup.Username)
	if len(username) < minUsernameLength {
		fieldErrors = append(fieldErrors, fieldError("username", "username is too short. enter at least %d characters.", minUsernameLength))
	} else if maxUsernameLength < len(username) {
		fieldErrors = append(fieldErrors, fieldError("username", "username is too long. enter a max of %d characters.", maxUsernameLength))
	} else {
		for _, c := range username {
			if !validUsernameChar(c) {
				fieldErrors = append(fieldErrors, fieldError("username", "username may only contain lowercase letters, digits, _ and -."))
				break
			}
		}
	}

	if len(signup.Email) < minEmailLength || !strings.Contains(signup.Email, "@") {
		fieldErrors = append(fieldErrors, fieldError("email", "enter a valid email."))
	}

	if len(signup.Password) < minPasswordLength {
		fieldErrors = append(fieldErrors, fieldError("password", "password is too short. enter at least %d characters.", minPasswordLength))
	}

	return fieldErrors
}

func ValidatePostForm(caption string, location string) []*FieldError {
	fieldErrors := []*FieldError{}

	if MaxCaptionLength < len(caption) {
		fieldErrors = append(fieldErrors, fieldError("caption", "caption is too long. enter a max of %d characters.", MaxCaptionLength))
	}
	if MaxLocationLength < len(location) {
		fieldErrors = append(fieldErrors, fieldError("location", "location is too long. enter a max of %d characters.", MaxLocationLength))
	}

	return fieldErrors
}
