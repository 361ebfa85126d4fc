package domain

import "fmt"

// Credentials authenticate the instructor against the remote platform.
// Either Email and Password, or a pre-issued access Token, must be set.
type Credentials struct {
	// Email is the instructor's account email.
	Email string

	// Password is the account password. Never persisted.
	Password string

	// Token is a pre-issued access token, sent as a bearer token.
	Token string
}

// Validate checks that one complete authentication method is present.
func (c Credentials) Validate() error {
	if c.Token != "" {
		return nil
	}
	if c.Email == "" || c.Password == "" {
		return fmt.Errorf("%w: email and password or an access token are required", ErrInvalidInput)
	}
	return nil
}

// UsesToken returns true if token authentication should be used.
func (c Credentials) UsesToken() bool {
	return c.Token != ""
}
