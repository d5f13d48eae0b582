package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransient 暂时性故障（存储不可用、网络超时），可重试
	ErrTransient = errors.New("transient failure")

	// ErrPermanent 不可自愈的故障（约束冲突等），直接进入死信
	ErrPermanent = errors.New("permanent failure")

	// ErrNotFound 未找到记录
	ErrNotFound = errors.New("not found")
)

// ValidationError 入站消息校验失败，携带出错字段，不重试
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Fields, ", "))
}

// NewValidationError 创建校验错误
func NewValidationError(fields ...string) *ValidationError {
	return &ValidationError{Fields: fields}
}

// IsValidation 判断是否为校验错误
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Transient 将底层错误标记为暂时性故障
func Transient(err error) error {
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// Permanent 将底层错误标记为永久性故障
func Permanent(err error) error {
	return fmt.Errorf("%w: %v", ErrPermanent, err)
}
