// Package schema implements the spec's SchemaValidator component: it
// validates a decoded payload against the struct-tag schema registered
// for an (action, direction) pair and maps violations onto the fixed RPC
// ErrorCode enumeration.
package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/charging-platform/charge-point-gateway/internal/rpc/wire"
)

// Direction distinguishes which half of an action's schema pair applies.
type Direction int

const (
	DirectionRequest Direction = iota
	DirectionResponse
)

// ValidationError is one field-level violation, carrying the RPC
// ErrorCode it maps to per spec §4.B.
type ValidationError struct {
	Code    wire.ErrorCode
	Field   string
	Message string
}

func (e ValidationError) Error() string { return e.Message }

// ValidationErrors collects every violation found for a single payload.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Message
	}
	return strings.Join(msgs, "; ")
}

// Code returns the ErrorCode of the first violation, which is what gets
// sent on the wire — the spec's CallError carries one code, not a list.
func (e ValidationErrors) Code() wire.ErrorCode {
	if len(e) == 0 {
		return wire.ErrorGenericError
	}
	return e[0].Code
}

// Validator wraps go-playground/validator with the OCPP-specific
// field-level rules and the JSON→ErrorCode mapping the spec requires.
type Validator struct {
	validate *validator.Validate
}

// New builds a Validator with the standard OCPP custom validations
// registered.
func New() *Validator {
	v := validator.New()
	v.RegisterValidation("ocpp_datetime", validateDateTime)
	v.RegisterValidation("ocpp_id_token", validateIDToken)
	return &Validator{validate: v}
}

// ValidateJSON confirms the raw bytes are well-formed JSON; a failure
// here is always FormationViolation regardless of direction.
func (v *Validator) ValidateJSON(raw json.RawMessage) error {
	var tmp interface{}
	if err := json.Unmarshal(raw, &tmp); err != nil {
		return ValidationErrors{{
			Code:    wire.ErrorFormationViolation,
			Field:   "",
			Message: fmt.Sprintf("malformed JSON: %v", err),
		}}
	}
	return nil
}

// Validate unmarshals raw into target and runs struct-tag validation,
// translating each failing tag into the spec's ErrorCode taxonomy:
//
//	required            -> OccurenceConstraintViolation
//	type mismatches      -> TypeConstraintViolation
//	range/pattern/length -> PropertyConstraintViolation
//
// Per spec §4.B, inbound CallResults are never schema-validated through
// this path; callers only invoke Validate for inbound Calls and outbound
// Call/CallResult.
func (v *Validator) Validate(direction Direction, raw json.RawMessage, target interface{}) error {
	if err := v.ValidateJSON(raw); err != nil {
		return err
	}

	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return ValidationErrors{{
			Code:    wire.ErrorTypeConstraintViolation,
			Message: fmt.Sprintf("payload does not match expected shape: %v", err),
		}}
	}

	err := v.validate.Struct(target)
	if err == nil {
		return nil
	}

	var out ValidationErrors
	if fieldErrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range fieldErrs {
			out = append(out, ValidationError{
				Code:    codeForTag(fe.Tag()),
				Field:   fe.Field(),
				Message: messageForTag(fe),
			})
		}
	} else {
		out = append(out, ValidationError{Code: wire.ErrorGenericError, Message: err.Error()})
	}
	return out
}

func codeForTag(tag string) wire.ErrorCode {
	switch tag {
	case "required":
		return wire.ErrorOccurenceConstraintViolation
	case "min", "max", "len", "gte", "lte", "oneof", "ocpp_id_token", "ocpp_datetime":
		return wire.ErrorPropertyConstraintViolation
	default:
		return wire.ErrorTypeConstraintViolation
	}
}

func messageForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("field %q is required", fe.Field())
	case "min":
		return fmt.Sprintf("field %q must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("field %q must not exceed %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("field %q must be one of: %s", fe.Field(), fe.Param())
	case "ocpp_datetime":
		return fmt.Sprintf("field %q must be an RFC3339 datetime", fe.Field())
	case "ocpp_id_token":
		return fmt.Sprintf("field %q must be a valid id token", fe.Field())
	default:
		return fmt.Sprintf("field %q failed validation %q", fe.Field(), fe.Tag())
	}
}

func validateDateTime(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	_, err := time.Parse(time.RFC3339, value)
	return err == nil
}

var idTokenPattern = regexp.MustCompile(`^[a-zA-Z0-9]{1,20}$`)

func validateIDToken(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return idTokenPattern.MatchString(value)
}
