package catalog

import "errors"

var (
	// ErrCorruption 持久化状态与预期不一致，继续加载不安全
	ErrCorruption = errors.New("corruption")
	// ErrInvalidArgument 请求或启动参数非法
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInjectedFailure 故障注入专用，只会在测试配置下出现
	ErrInjectedFailure = errors.New("INJECTED FAILURE")
)
