// 文件路径: internal/panel/errors.go
// 模块说明: 面板交互的错误分类，调用方用 errors.Is 判断类别。
package panel

import "errors"

var (
	// ErrAuth 表示面板登录或会话建立失败。
	ErrAuth = errors.New("panel: authentication failed / 面板登录失败")
	// ErrSessionRejected 表示缓存的会话被面板拒绝（401/403），需要重新登录。
	ErrSessionRejected = errors.New("panel: session rejected / 会话被拒绝")
	// ErrInboundNotFound 表示配置的 inbound id 在面板上不存在。
	ErrInboundNotFound = errors.New("panel: inbound not found / 未找到 inbound")
	// ErrProvisioningFailed 表示面板拒绝了创建或读取请求。
	ErrProvisioningFailed = errors.New("panel: provisioning failed / 开通失败")
	// ErrUnsupportedProtocol 表示没有与协议或 URI scheme 对应的适配器。
	ErrUnsupportedProtocol = errors.New("panel: unsupported protocol / 不支持的协议")
)
