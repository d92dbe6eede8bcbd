package dispatch

import "github.com/go-playground/validator/v10"

var validate = validator.New()

// validationHint returns a human-readable nudge per failed validator
// tag.
func validationHint(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "oneof":
		return "Must be one of: " + e.Param()
	case "min":
		return "Must be at least " + e.Param()
	default:
		return "Validation failed: " + e.Tag()
	}
}

// validationMessage flattens validator.ValidationErrors into one
// human-readable message for the VALIDATION_ERROR envelope.
func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msg := ""
	for i, e := range verrs {
		if i > 0 {
			msg += "; "
		}
		msg += e.Field() + ": " + validationHint(e)
	}
	return msg
}
