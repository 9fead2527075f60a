package estimate

import "github.com/go-playground/validator/v10"

var validate = validator.New()

// Validate checks p against the ranges the model accepts. Callers taking
// untrusted input (RPC, CLI) validate before calling Estimate.
func (p Params) Validate() error {
	return validate.Struct(p)
}
