package mtrpc

import "errors"

var (
	// ErrInvalidConfig 配置非法
	ErrInvalidConfig = errors.New("mtrpc: invalid config")

	// ErrInvalidArgument 参数非法
	ErrInvalidArgument = errors.New("mtrpc: invalid argument")
)
