package models

import "time"

// Response 统一响应格式
type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// Page 分页列表
type Page struct {
	Items    interface{} `json:"items"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// NewResponse 创建响应
func NewResponse(code int, message string, data interface{}) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// SuccessResponse 成功响应
func SuccessResponse(data interface{}) *Response {
	return NewResponse(200, "success", data)
}

// PageResponse 分页成功响应
func PageResponse(items interface{}, total, page, pageSize int) *Response {
	return SuccessResponse(Page{Items: items, Total: total, Page: page, PageSize: pageSize})
}

// ErrorResponse 错误响应
func ErrorResponse(code int, message string) *Response {
	return NewResponse(code, message, nil)
}

// ErrorWithData 错误响应，附带当前状态等上下文
func ErrorWithData(code int, message string, data interface{}) *Response {
	return NewResponse(code, message, data)
}
