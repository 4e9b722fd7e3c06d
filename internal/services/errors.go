package services

import (
	"errors"
	"strings"

	"github.com/Daneel-Li/feedback-back/internal/dao"
)

var (
	ErrInvalidStatus = errors.New("invalid feedback status")
	ErrNotFound      = dao.ErrNotFound
)

// FieldError 字段级校验错误
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError 返回给调用方修正，不算服务端错误
type ValidationError struct {
	Fields []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// ValidationResult 为空即通过
type ValidationResult struct {
	Errors []FieldError
}

func (r *ValidationResult) add(field, message string) {
	r.Errors = append(r.Errors, FieldError{Field: field, Message: message})
}

func (r ValidationResult) OK() bool {
	return len(r.Errors) == 0
}

// Err 通过时返回 nil
func (r ValidationResult) Err() error {
	if r.OK() {
		return nil
	}
	return &ValidationError{Fields: r.Errors}
}
