package middleware

import (
	"context"
	"errors"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3filter"

	platformauth "github.com/zenGate-Global/tenant-pool/platform/go/auth"
)

var (
	ErrMissingOperator = errors.New("missing operator credentials")
	ErrMissingRole     = errors.New("operator lacks required role")
)

// ValidateAuthenticationViaSwagger is the AuthenticationFunc for OpenAPI request validation.
// Operations secured with bearerAuth need operator credentials placed on the request context
// by the JWT middleware. Scopes listed on the security requirement are read as roles; with
// none listed the operator role is required.
func ValidateAuthenticationViaSwagger(ctx context.Context, input *openapi3filter.AuthenticationInput) error {
	if input == nil || input.SecuritySchemeName != "bearerAuth" {
		return nil
	}
	r := input.RequestValidationInput.Request
	if r == nil {
		return fmt.Errorf("no request in validation input")
	}

	creds, ok := platformauth.OperatorFromContext(r.Context())
	if !ok || creds == nil {
		return ErrMissingOperator
	}

	roles := input.Scopes
	if len(roles) == 0 {
		roles = []string{platformauth.RoleOperator}
	}
	for _, role := range roles {
		if creds.HasRole(role) {
			return nil
		}
	}
	return fmt.Errorf("%w: one of %v", ErrMissingRole, roles)
}
