package validator

import (
	"strings"
)

// ValidationErrors 校验错误集合。
type ValidationErrors struct {
	Errors []FieldError `json:"errors"`
}

// FieldError 单个字段的校验错误。
type FieldError struct {
	Field   string      `json:"field"`
	Tag     string      `json:"tag"`
	Value   interface{} `json:"value,omitempty"`
	Param   string      `json:"param,omitempty"`
	Message string      `json:"message"`
}

// Error 实现 error 接口。
func (v *ValidationErrors) Error() string {
	if v == nil || len(v.Errors) == 0 {
		return ""
	}
	return "validation failed: " + strings.Join(v.Messages(), "; ")
}

// HasErrors 是否存在错误。
func (v *ValidationErrors) HasErrors() bool {
	return v != nil && len(v.Errors) > 0
}

// First 返回第一条错误信息。
func (v *ValidationErrors) First() string {
	if v == nil || len(v.Errors) == 0 {
		return ""
	}
	return v.Errors[0].Message
}

// Messages 返回所有错误信息。
func (v *ValidationErrors) Messages() []string {
	if v == nil || len(v.Errors) == 0 {
		return nil
	}
	messages := make([]string, len(v.Errors))
	for i, fe := range v.Errors {
		messages[i] = fe.Message
	}
	return messages
}

// Fields 返回出错的字段名。
func (v *ValidationErrors) Fields() []string {
	if v == nil {
		return nil
	}
	fields := make([]string, 0, len(v.Errors))
	for _, fe := range v.Errors {
		fields = append(fields, fe.Field)
	}
	return fields
}

// NewValidationError 创建只含一条错误的集合。
func NewValidationError(field, tag, message string) *ValidationErrors {
	return &ValidationErrors{Errors: []FieldError{{Field: field, Tag: tag, Message: message}}}
}
