package middleware

import (
	"errors"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/marketsync/backend/internal/domain/integration"
	"github.com/marketsync/backend/internal/interfaces/http/dto"
)

// SetupValidator registers the sync-specific tags on gin's validator and
// reports fields by their JSON, form or uri name.
//
//	marketplace  a supported marketplace name, any case
//	store_url    an absolute http(s) store root without credentials, query or fragment
func SetupValidator() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(fieldName)
	_ = v.RegisterValidation("marketplace", func(fl validator.FieldLevel) bool {
		_, err := integration.ParseMarketplace(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("store_url", func(fl validator.FieldLevel) bool {
		return isStoreURL(fl.Field().String())
	})
}

func fieldName(fld reflect.StructField) string {
	for _, tag := range []string{"json", "form", "uri"} {
		name, _, _ := strings.Cut(fld.Tag.Get(tag), ",")
		switch name {
		case "-":
			return ""
		case "":
			continue
		default:
			return name
		}
	}
	return ""
}

func isStoreURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.User != nil {
		return false
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return false
	}
	return u.RawQuery == "" && u.Fragment == ""
}

// FormatValidationErrors converts binding errors into the validation
// envelope. Errors that are not field validations, such as malformed JSON,
// produce a single "body" detail.
func FormatValidationErrors(err error, requestID string) dto.Response {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return dto.NewValidationErrorResponse("Request validation failed", requestID,
			[]dto.ValidationDetail{{Field: "body", Message: "Malformed request body"}})
	}
	details := make([]dto.ValidationDetail, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, dto.ValidationDetail{Field: fe.Field(), Message: validationMessage(fe)})
	}
	return dto.NewValidationErrorResponse("Request validation failed", requestID, details)
}

// HandleValidationError writes a 400 validation envelope.
func HandleValidationError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, FormatValidationErrors(err, RequestIDFrom(c)))
}

var fixedMessages = map[string]string{
	"required":    "This field is required",
	"url":         "Invalid URL format",
	"http_url":    "Invalid URL format",
	"store_url":   "Must be the http(s) address of the store, without query or credentials",
	"uuid":        "Invalid UUID format",
	"marketplace": "Unknown marketplace",
}

func validationMessage(fe validator.FieldError) string {
	if msg, ok := fixedMessages[fe.Tag()]; ok {
		return msg
	}
	unit := ""
	if fe.Kind() == reflect.String {
		unit = " characters"
	}
	switch fe.Tag() {
	case "min":
		return "Must be at least " + fe.Param() + unit
	case "max":
		return "Must be at most " + fe.Param() + unit
	case "oneof":
		return "Must be one of: " + fe.Param()
	}
	return "Invalid value"
}
