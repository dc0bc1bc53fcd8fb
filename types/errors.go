package types

// ErrorCode is the machine-readable code of a structured error.
type ErrorCode string

const (
	CodeIsRequired            ErrorCode = "IsRequired"
	CodeInvalidType           ErrorCode = "InvalidType"
	CodeInvalidLength         ErrorCode = "InvalidLength"
	CodeValueExists           ErrorCode = "ValueExists"
	CodeRelatedEntityNotFound ErrorCode = "RelatedEntityNotFound"
	CodeCantBeDeleted         ErrorCode = "CantBeDeleted"
	CodeIncorrectValue        ErrorCode = "IncorrectValue"
	CodeCantBeChanged         ErrorCode = "CantBeChanged"
	CodeUnAuthenticated       ErrorCode = "UnAuthenticated"
	CodeForbidden             ErrorCode = "Forbidden"
	CodeInternalServerError   ErrorCode = "InternalServerError"
)

var errorTitles = map[ErrorCode]string{
	CodeIsRequired:            "The field is required",
	CodeInvalidType:           "The field type is invalid",
	CodeInvalidLength:         "The field type is String and its length is invalid",
	CodeValueExists:           "The entity field value already exists in another entity",
	CodeRelatedEntityNotFound: "The related entity isn't found",
	CodeCantBeDeleted:         "The entity can't be deleted due to its existing relations with other entities",
	CodeIncorrectValue:        "The value is not correct or doesn't meet the expected value criteria",
	CodeCantBeChanged:         "The value can't be changed due to system criteria",
	CodeUnAuthenticated:       "User is not authenticated",
	CodeForbidden:             "Access denied or forbidden",
	CodeInternalServerError:   "Internal server error",
}

// Title returns the human readable title paired with the code.
func (c ErrorCode) Title() string {
	if title, ok := errorTitles[c]; ok {
		return title
	}
	return errorTitles[CodeInternalServerError]
}

// ValidationError is a structured, expected business-rule failure.
type ValidationError struct {
	// Code identifies the kind of failure.
	Code ErrorCode `json:"code"`

	// Source names the offending field, e.g. "email" or "address.postalCode".
	Source string `json:"source,omitempty"`

	// Title is the generic description of Code.
	Title string `json:"title"`

	// Detail is a caller-supplied, more specific message key.
	Detail string `json:"detail,omitempty"`
}

// NewValidationError builds a ValidationError with the title matching code.
func NewValidationError(code ErrorCode, source, detail string) ValidationError {
	return ValidationError{
		Code:   code,
		Source: source,
		Title:  code.Title(),
		Detail: detail,
	}
}
