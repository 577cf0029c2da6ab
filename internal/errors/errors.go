// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	// 通用错误类型
	ErrorTypeValidation ErrorType = "validation_error"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeError      ErrorType = "processing_error"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeTimeout    ErrorType = "timeout"

	// 生成流水线错误类型
	ErrorTypeConfiguration       ErrorType = "configuration_error"
	ErrorTypeParse               ErrorType = "parse_error"
	ErrorTypeGenerationExhausted ErrorType = "generation_exhausted"
	ErrorTypeMediaGeneration     ErrorType = "media_generation_error"
	ErrorTypeStorage             ErrorType = "storage_error"
	ErrorTypeUnauthorized        ErrorType = "unauthorized"
)

// AppError 应用程序错误结构
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string // 用户友好的错误代码
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError 创建新的 AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewProcessingError 创建处理错误
func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

// NewConflictError 创建冲突错误
func NewConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConflict, message, originalError)
}

// NewConfigurationError 创建配置错误（缺少模板、缺少凭据等），不可重试
func NewConfigurationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConfiguration, message, originalError)
}

// NewParseError 创建解析错误，LLM返回内容不是合法的结构化数据
func NewParseError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeParse, message, originalError)
}

// NewMediaGenerationError 创建媒体生成错误
func NewMediaGenerationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeMediaGeneration, message, originalError)
}

// NewStorageError 创建存储错误
func NewStorageError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeStorage, message, originalError)
}

// NewUnauthorizedError 创建未授权错误
func NewUnauthorizedError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeUnauthorized, message, originalError)
}

// GenerationExhaustedError 在节点的重试预算耗尽后返回
type GenerationExhaustedError struct {
	Coordinate string // 例如 "chapter 2 / scene 1 / shot 3"
	Attempts   int
	LastError  error
}

func (e *GenerationExhaustedError) Error() string {
	last := "unknown error"
	if e.LastError != nil {
		last = e.LastError.Error()
	}
	return fmt.Sprintf("generation of %s failed after %d attempts: %s", e.Coordinate, e.Attempts, last)
}

func (e *GenerationExhaustedError) Unwrap() error {
	return e.LastError
}

// NewGenerationExhaustedError 创建重试耗尽错误
func NewGenerationExhaustedError(coordinate string, attempts int, lastErr error) *GenerationExhaustedError {
	return &GenerationExhaustedError{
		Coordinate: coordinate,
		Attempts:   attempts,
		LastError:  lastErr,
	}
}

// MediaFailure 记录批量媒体生成中单个路径的失败
type MediaFailure struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// MediaFailures 批量媒体生成的失败列表
type MediaFailures []MediaFailure

func (f MediaFailures) Error() string {
	if len(f) == 0 {
		return "no media failures"
	}
	parts := make([]string, 0, len(f))
	for _, failure := range f {
		parts = append(parts, fmt.Sprintf("%s: %s", failure.Path, failure.Err))
	}
	return fmt.Sprintf("%d media generation failures: %s", len(f), strings.Join(parts, "; "))
}

// IsValidationError 检查是否为验证错误
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsNotFoundError 检查是否为未找到错误
func IsNotFoundError(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsConflictError 检查是否为冲突错误
func IsConflictError(err error) bool {
	return hasType(err, ErrorTypeConflict)
}

// IsConfigurationError 检查是否为配置错误
func IsConfigurationError(err error) bool {
	return hasType(err, ErrorTypeConfiguration)
}

// IsParseError 检查是否为解析错误
func IsParseError(err error) bool {
	return hasType(err, ErrorTypeParse)
}

// IsStorageError 检查是否为存储错误
func IsStorageError(err error) bool {
	return hasType(err, ErrorTypeStorage)
}

// IsUnauthorizedError 检查是否为未授权错误
func IsUnauthorizedError(err error) bool {
	return hasType(err, ErrorTypeUnauthorized)
}

// IsGenerationExhausted 检查是否为重试耗尽错误
func IsGenerationExhausted(err error) bool {
	var exhausted *GenerationExhaustedError
	return errors.As(err, &exhausted)
}

func hasType(err error, errType ErrorType) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == errType
	}
	return false
}

// generateErrorCode 根据错误类型生成错误代码
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeError:
		return "PROCESSING_ERROR"
	case ErrorTypeConflict:
		return "CONFLICT"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	case ErrorTypeConfiguration:
		return "CONFIGURATION_ERROR"
	case ErrorTypeParse:
		return "PARSE_ERROR"
	case ErrorTypeGenerationExhausted:
		return "GENERATION_EXHAUSTED"
	case ErrorTypeMediaGeneration:
		return "MEDIA_GENERATION_FAILED"
	case ErrorTypeStorage:
		return "STORAGE_ERROR"
	case ErrorTypeUnauthorized:
		return "UNAUTHORIZED"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError 包装现有错误
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		// 如果已经是 AppError，只更新消息
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}

	// 否则创建新的 AppError
	return NewAppError(errType, message, err)
}
