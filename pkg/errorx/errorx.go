// Package errorx 定义持久层统一的业务错误类型
// NotFound / Conflict / Validation / BackendUnavailable / IO 五类错误都落在 CodeError 上，
// 上层只需要通过错误码区分，不需要关心底层是哪一个存储后端
package errorx

import (
	"errors"
	"fmt"
)

// CodeError 带业务错误码的自定义错误
// 实现了 error 接口，支持 %w 包装底层错误，且能被 errors.Is/errors.As 识别
type CodeError struct {
	Code  int    // 业务错误码
	Msg   string // 面向调用方的错误消息
	cause error  // 被包装的底层错误
}

// Error 存在底层错误时返回 "消息: 底层错误"，否则仅返回消息
func (e *CodeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.cause)
	}
	return e.Msg
}

// Unwrap 支持 errors.Is/errors.As 向下追溯
func (e *CodeError) Unwrap() error {
	return e.cause
}

// Is 错误码相同即视为同一类错误，便于 errors.Is(err, errorx.ErrNotFound) 这种写法
func (e *CodeError) Is(target error) bool {
	var t *CodeError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.cause == nil
}

// New 创建一个新的 CodeError
func New(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

// Newf 创建一个带格式化消息的 CodeError
func Newf(code int, format string, args ...any) *CodeError {
	return &CodeError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap 包装底层错误，添加业务错误码和消息
func Wrap(err error, code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg, cause: err}
}

// Wrapf 包装底层错误，支持格式化消息
func Wrapf(err error, code int, format string, args ...any) *CodeError {
	return &CodeError{Code: code, Msg: fmt.Sprintf(format, args...), cause: err}
}

// GetCode 从错误中提取业务错误码，如果不是 CodeError 则返回 CodeServerBusy
func GetCode(err error) int {
	var codeErr *CodeError
	if errors.As(err, &codeErr) {
		return codeErr.Code
	}
	return CodeServerBusy
}

// Message 返回可以直接展示给调用方的消息（不带底层错误细节）
func Message(err error) string {
	var codeErr *CodeError
	if errors.As(err, &codeErr) {
		return codeErr.Msg
	}
	return ErrServerBusy.Msg
}

// 业务状态码常量定义
const (
	CodeSuccess            = 1000 // 成功
	CodeValidation         = 1001 // 输入不合法：缺字段、超长、时间格式错误
	CodeConflict           = 1002 // 唯一性冲突：邮箱重复、联系人重复、点赞重复
	CodeInvalidCredentials = 1004 // 账号或密码错误（不区分是哪一个）
	CodeServerBusy         = 1005 // 服务繁忙
	CodeNotFound           = 1008 // 针对明确 id 的操作但实体不存在
	CodeDBError            = 1010 // 数据库错误
	CodeCacheError         = 1011 // 缓存错误
	CodeBackendUnavailable = 1012 // 选中的存储后端初始化失败
	CodeIOError            = 1013 // 嵌入式后端落盘失败
)

// 预定义常用错误实例
var (
	ErrValidation         = New(CodeValidation, "Invalid input")
	ErrServerBusy         = New(CodeServerBusy, "Server busy")
	ErrNotFound           = New(CodeNotFound, "Not found")
	ErrConflict           = New(CodeConflict, "Already exists")
	ErrInvalidCredentials = New(CodeInvalidCredentials, "Invalid credentials")
)

func hasCode(err error, code int) bool {
	var codeErr *CodeError
	return errors.As(err, &codeErr) && codeErr.Code == code
}

// IsNotFound 检查错误是否为"未找到"类型
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

// IsConflict 检查错误是否为唯一性冲突
func IsConflict(err error) bool { return hasCode(err, CodeConflict) }

// IsValidation 检查错误是否为输入校验错误
func IsValidation(err error) bool { return hasCode(err, CodeValidation) }
