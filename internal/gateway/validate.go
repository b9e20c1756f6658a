package gateway

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/selfdb/gateway/internal/apierror"
)

// validate is the one process-wide validator instance; struct tag
// validation rules (required, min/max, enum oneof, uuid, printascii...)
// are attached on each request/body DTO in the handler packages.
var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseStrict decodes the JSON body into dst with extra='forbid'
// semantics (unknown fields rejected) and runs struct-tag validation.
// Any failure maps to 422 ValidationFailure, per spec.md §4.1 step 5.
func ParseStrict(c *fiber.Ctx, dst any) error {
	body := c.Body()
	if len(body) == 0 {
		return apierror.ValidationErr("request body is required")
	}
	dec := fiberJSONDecoder(body)
	if err := dec(dst); err != nil {
		return apierror.ValidationErr(err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		return apierror.ValidationErr(err.Error())
	}
	return nil
}

// fiberJSONDecoder returns a strict JSON-unmarshal func over body that
// rejects unknown fields, mirroring Pydantic's extra='forbid'.
func fiberJSONDecoder(body []byte) func(any) error {
	return func(dst any) error {
		dec := strictDecoder(body)
		return dec.Decode(dst)
	}
}
