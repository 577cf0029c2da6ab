// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorUnauthorized  = "UNAUTHORIZED"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"

	// 脚本相关错误
	ErrorScriptNotFound     = "SCRIPT_NOT_FOUND"
	ErrorScriptInvalid      = "SCRIPT_INVALID"
	ErrorCoordinateInvalid  = "COORDINATE_INVALID"
	ErrorGenerationExhaust  = "GENERATION_EXHAUSTED"
	ErrorLLMNotConfigured   = "LLM_NOT_CONFIGURED"
	ErrorStorageUnavailable = "STORAGE_UNAVAILABLE"

	// 媒体相关错误
	ErrorMediaStageMissing = "MEDIA_STAGE_MISSING"

	// 任务相关错误
	ErrorTaskNotFound = "TASK_NOT_FOUND"
)
