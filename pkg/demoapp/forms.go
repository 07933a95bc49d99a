package demoapp

import (
	"net/http"
	"strings"
	"unicode/utf8"
)

const minPasswordLength = 6

// LoginForm is the submitted login page.
type LoginForm struct {
	Email    string
	Password string
}

// SignupForm is the submitted signup page.
type SignupForm struct {
	FirstName       string
	LastName        string
	Email           string
	Password        string
	ConfirmPassword string
}

func loginFormFrom(r *http.Request) LoginForm {
	return LoginForm{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}
}

func signupFormFrom(r *http.Request) SignupForm {
	return SignupForm{
		FirstName:       r.PostFormValue("first_name"),
		LastName:        r.PostFormValue("last_name"),
		Email:           r.PostFormValue("email"),
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
	}
}

// ValidateLogin returns the first validation message, or "" when the form
// can be checked against the store.
func ValidateLogin(form LoginForm) string {
	if strings.TrimSpace(form.Email) == "" {
		return "Email is required"
	}
	if form.Password == "" {
		return "Password is required"
	}
	return ""
}

// ValidateSignup returns every failing rule in display order. exists
// reports whether an email is already registered.
func ValidateSignup(form SignupForm, exists func(string) bool) []string {
	var errs []string
	email := strings.TrimSpace(form.Email)

	if strings.TrimSpace(form.FirstName) == "" {
		errs = append(errs, "First name is required")
	}
	if strings.TrimSpace(form.LastName) == "" {
		errs = append(errs, "Last name is required")
	}

	if email == "" {
		errs = append(errs, "Email is required")
	} else if !strings.Contains(email, "@") || !strings.Contains(email, ".") {
		errs = append(errs, "Invalid email format")
	}

	if form.Password == "" {
		errs = append(errs, "Password is required")
	} else if utf8.RuneCountInString(form.Password) < minPasswordLength {
		errs = append(errs, "Password must be at least 6 characters")
	}

	if form.Password != form.ConfirmPassword {
		errs = append(errs, "Passwords do not match")
	}

	if email != "" && exists != nil && exists(email) {
		errs = append(errs, msgEmailTaken)
	}
	return errs
}
