package validation

import (
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
)

const (
	MaxQueryLength = 4000
	PDFMime        = "application/pdf"
)

var validate = validator.New()

// submitForm is the non-file part of the analyze request.
type submitForm struct {
	Query string `validate:"max=4000"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var messages []string
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// ValidateSubmit checks the upload before anything durable happens: a bad
// request must create no ledger row and no artifact.
func ValidateSubmit(query string, file *multipart.FileHeader, maxSize int64) ValidationErrors {
	var errors ValidationErrors

	if file == nil {
		errors = append(errors, ValidationError{
			Field:   "file",
			Message: "a document file must be provided",
		})
		return errors
	}

	if err := validate.Struct(submitForm{Query: query}); err != nil {
		errors = append(errors, ValidationError{
			Field:   "query",
			Message: fmt.Sprintf("query exceeds maximum length of %d characters", MaxQueryLength),
		})
	}

	if ext := strings.ToLower(filepath.Ext(file.Filename)); ext != ".pdf" {
		errors = append(errors, ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("invalid file type %q, please upload a PDF", ext),
		})
	}

	if file.Size == 0 {
		errors = append(errors, ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("file %s is empty", file.Filename),
		})
	}

	if maxSize > 0 && file.Size > maxSize {
		errors = append(errors, ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("file %s exceeds maximum size of %d bytes", file.Filename, maxSize),
		})
	}

	return errors
}

// ValidateContent sniffs the leading bytes: the extension check above is
// cheap, this one catches a renamed non-PDF.
func ValidateContent(head []byte) ValidationErrors {
	if mt := mimetype.Detect(head); !mt.Is(PDFMime) {
		return ValidationErrors{{
			Field:   "file",
			Message: fmt.Sprintf("unsupported content type %s, expected %s", mt.String(), PDFMime),
		}}
	}
	return nil
}
