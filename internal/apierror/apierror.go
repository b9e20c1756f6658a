// Package apierror implements the gateway's HTTP error taxonomy: every
// handler-visible failure is one of these kinds, mapped to a fixed status
// code and a `{"detail": ...}` envelope.
package apierror

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/lib/pq"
)

// Kind enumerates the recognized error categories from the admission
// pipeline's error taxonomy.
type Kind string

const (
	MissingAPIKey       Kind = "missing_api_key"
	InvalidAPIKey       Kind = "invalid_api_key"
	InvalidCredentials  Kind = "invalid_credentials"
	InvalidOrExpired    Kind = "invalid_or_expired_token"
	TokenReuse          Kind = "token_reuse"
	InactiveUser        Kind = "inactive_user"
	Forbidden           Kind = "forbidden"
	NotFound            Kind = "not_found"
	Conflict            Kind = "conflict"
	ValidationFailure   Kind = "validation_failure"
	UnknownQueryParam   Kind = "unknown_query_param"
	BadInput            Kind = "bad_input"
	PayloadTooLarge     Kind = "payload_too_large"
	Unavailable         Kind = "unavailable"
	Internal            Kind = "internal"
)

var statusByKind = map[Kind]int{
	MissingAPIKey:      fiber.StatusNotAcceptable,
	InvalidAPIKey:      fiber.StatusUnauthorized,
	InvalidCredentials: fiber.StatusUnauthorized,
	InvalidOrExpired:   fiber.StatusUnauthorized,
	TokenReuse:         fiber.StatusUnauthorized,
	InactiveUser:       fiber.StatusBadRequest,
	Forbidden:          fiber.StatusForbidden,
	NotFound:           fiber.StatusNotFound,
	Conflict:           fiber.StatusConflict,
	ValidationFailure:  fiber.StatusUnprocessableEntity,
	UnknownQueryParam:  fiber.StatusBadRequest,
	BadInput:           fiber.StatusBadRequest,
	PayloadTooLarge:    fiber.StatusRequestEntityTooLarge,
	Unavailable:        fiber.StatusServiceUnavailable,
	Internal:           fiber.StatusInternalServerError,
}

// Error is the gateway's single error type. Handlers construct one via
// the kind-specific constructors below; the Fiber error handler maps it
// to {"detail": Detail} with Status.
type Error struct {
	Kind   Kind
	Status int
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Detail, e.cause)
	}
	return e.Detail
}

func (e *Error) Unwrap() error { return e.cause }

func newErr(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Status: statusByKind[kind], Detail: detail}
}

func Wrap(kind Kind, detail string, cause error) *Error {
	e := newErr(kind, detail)
	e.cause = cause
	return e
}

func New(kind Kind, detail string) *Error { return newErr(kind, detail) }

func MissingAPIKeyErr() *Error { return newErr(MissingAPIKey, "X-API-Key header is required") }
func InvalidAPIKeyErr() *Error { return newErr(InvalidAPIKey, "Invalid API key") }
func InvalidCredentialsErr() *Error {
	return newErr(InvalidCredentials, "Incorrect email or password")
}
func InvalidOrExpiredTokenErr() *Error {
	return newErr(InvalidOrExpired, "Could not validate credentials")
}
func TokenReuseErr() *Error { return newErr(TokenReuse, "Refresh token reuse detected") }
func InactiveUserErr() *Error { return newErr(InactiveUser, "Inactive user") }
func ForbiddenErr(detail string) *Error {
	if detail == "" {
		detail = "Not enough permissions"
	}
	return newErr(Forbidden, detail)
}
func NotFoundErr(resource string) *Error {
	return newErr(NotFound, fmt.Sprintf("%s not found", resource))
}
func ConflictErr(detail string) *Error { return newErr(Conflict, detail) }
func ValidationErr(detail string) *Error { return newErr(ValidationFailure, detail) }
func UnknownQueryParamErr(name string) *Error {
	return newErr(UnknownQueryParam, fmt.Sprintf("Unknown query parameter: %s", name))
}
func BadInputErr(detail string) *Error { return newErr(BadInput, detail) }
func PayloadTooLargeErr(detail string) *Error { return newErr(PayloadTooLarge, detail) }
func UnavailableErr(detail string) *Error { return newErr(Unavailable, detail) }
func InternalErr(cause error) *Error { return Wrap(Internal, "internal server error", cause) }

// FromPQ maps a lib/pq error (by SQLSTATE) to the taxonomy, matching the
// propagation policy of spec.md §7. Returns nil if err is not a *pq.Error.
func FromPQ(err error) *Error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}
	switch pqErr.Code.Class() {
	case "23": // integrity constraint violation
		if pqErr.Code == "23505" {
			return ConflictErr("A record with this value already exists")
		}
		return BadInputErr(pqErr.Message)
	case "42": // syntax / access rule violation (undefined column, etc.)
		return BadInputErr(pqErr.Message)
	default:
		return nil
	}
}

// Handler is the Fiber app-wide error handler. It converts any *Error to
// its JSON envelope, maps uncaught *pq.Error via FromPQ, keeps the status
// code of a *fiber.Error, and otherwise returns 500 with the stringified
// error, per spec.md §7.
func Handler(c *fiber.Ctx, err error) error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return c.Status(apiErr.Status).JSON(fiber.Map{"detail": apiErr.Detail})
	}
	if pqErr := FromPQ(err); pqErr != nil {
		return c.Status(pqErr.Status).JSON(fiber.Map{"detail": pqErr.Detail})
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(fiber.Map{"detail": fiberErr.Message})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"detail": err.Error()})
}
