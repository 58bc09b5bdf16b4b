package validation

import (
	"regexp"

	"github.com/edgestore/edgestore/pkg/types"
	"github.com/go-playground/validator/v10"
)

// identRegex constrains identifiers that end up in physical storage object
// names (table names, index column names, physical table ids). Lowercase so
// quoted and unquoted forms never diverge.
const identRegex = `^[a-z][a-z0-9_]*$`
const identMaxLength = 63

// nameRegex constrains logical names carried in rows and events (user ids,
// dataset ids, versions). No whitespace, printable, wire-safe.
const nameRegex = `^[A-Za-z0-9][A-Za-z0-9._:-]*$`
const nameMaxLength = 128

// jsonPathRegex accepts dotted paths rooted at the document: $.a.b_c
const jsonPathRegex = `^\$(\.[A-Za-z0-9_-]+)+$`

var (
	identRe    = regexp.MustCompile(identRegex)
	nameRe     = regexp.MustCompile(nameRegex)
	jsonPathRe = regexp.MustCompile(jsonPathRegex)
)

// identValidator checks identifiers that feed DDL.
func identValidator(fl validator.FieldLevel) bool {
	return ValidateIdent(fl.Field().String())
}

// nameFormatValidator checks logical names.
func nameFormatValidator(fl validator.FieldLevel) bool {
	return ValidateName(fl.Field().String())
}

// jsonPathValidator checks document paths.
func jsonPathValidator(fl validator.FieldLevel) bool {
	return ValidateJSONPath(fl.Field().String())
}

// colTypeValidator checks declared index column types.
func colTypeValidator(fl validator.FieldLevel) bool {
	return types.ColumnTypeFromString(fl.Field().String()).IsValid()
}

func ValidateIdent(s string) bool {
	if len(s) == 0 || len(s) > identMaxLength {
		return false
	}
	return identRe.MatchString(s)
}

func ValidateName(s string) bool {
	if len(s) == 0 || len(s) > nameMaxLength {
		return false
	}
	return nameRe.MatchString(s)
}

func ValidateJSONPath(s string) bool {
	if len(s) == 0 || len(s) > 256 {
		return false
	}
	return jsonPathRe.MatchString(s)
}

func init() {
	V().RegisterValidation("identValidator", identValidator)
	V().RegisterValidation("nameFormatValidator", nameFormatValidator)
	V().RegisterValidation("jsonPathValidator", jsonPathValidator)
	V().RegisterValidation("colTypeValidator", colTypeValidator)
}
