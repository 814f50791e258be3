// Package contracts embeds the OpenAPI documents served and enforced by the API server.
package contracts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed pool.yaml
var poolSpec []byte

// Pool parses and validates the pool contract. Every call returns a fresh document, so
// callers may mutate it.
func Pool() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	spec, err := loader.LoadFromData(poolSpec)
	if err != nil {
		return nil, fmt.Errorf("load pool contract: %w", err)
	}
	if err := spec.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate pool contract: %w", err)
	}
	return spec, nil
}
