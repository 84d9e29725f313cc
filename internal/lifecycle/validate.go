package lifecycle

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

const passwordPolicy = "Password must be 8-12 characters with upper, lower, number, and one of !@#$%^&*._-"

var (
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	passwordCharset = regexp.MustCompile(`^[A-Za-z0-9!@#$%^&*._-]{8,12}$`)
)

const passwordSymbols = "!@#$%^&*._-"

// passwordRules enforce the account password policy. The platform applies
// the same policy to trading passwords.
var passwordRules = []validation.Rule{
	validation.Match(passwordCharset).Error(passwordPolicy),
	validation.By(passwordClasses),
}

func passwordClasses(value interface{}) error {
	s, _ := value.(string)
	var upper, lower, digit, symbol bool
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		}
	}
	if !upper || !lower || !digit || !symbol {
		return errors.New(passwordPolicy)
	}
	return nil
}

// RegisterInput is a registration request.
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Origin   string `json:"-"`
	Locale   string `json:"locale"`
}

func (in RegisterInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email,
			validation.Required.Error("Email and password are required."),
			validation.Match(emailPattern).Error("Invalid email address."),
		),
		validation.Field(&in.Password,
			append([]validation.Rule{validation.Required.Error("Email and password are required.")}, passwordRules...)...,
		),
	)
}

type loginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (in loginInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required.Error("Email and password are required.")),
		validation.Field(&in.Password, validation.Required.Error("Email and password are required.")),
	)
}

type otpInput struct {
	Code string `json:"code"`
}

func (in otpInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Code,
			validation.Required.Error("OTP code is required."),
			validation.Length(6, 6).Error("OTP code must be 6 digits."),
			is.Digit.Error("OTP code must be 6 digits."),
		),
	)
}

type changePasswordInput struct {
	Current string `json:"currentPassword"`
	Next    string `json:"newPassword"`
}

func (in changePasswordInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Current, validation.Required.Error("Both current and new passwords are required.")),
		validation.Field(&in.Next,
			append([]validation.Rule{validation.Required.Error("Both current and new passwords are required.")}, passwordRules...)...,
		),
	)
}
