package accounts

import "github.com/go-playground/validator/v10"

var identifierValidator = validator.New(validator.WithRequiredStructEnabled())

// isEmail reports whether the login identifier should be treated as an email
// address. Anything that fails the format check is looked up as a phone number.
func isEmail(identifier string) bool {
	return identifierValidator.Var(identifier, "email") == nil
}
