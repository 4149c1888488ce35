package xerr

import "errors"

var (
	// 通用错误
	ErrInternalServer = errors.New("服务器内部错误")

	// 客户端请求错误
	ErrInvalidParams       = errors.New("无效的请求参数")
	ErrInvalidUploadLength = errors.New("缺失或非法的上传总长度")
	ErrInvalidOffset       = errors.New("缺失或非法的上传偏移量")
	ErrFileTooLarge        = errors.New("上传文件过大，超出限制")
	ErrFileNameMissing     = errors.New("上传元数据缺少文件名")
	ErrInvalidMetadata     = errors.New("上传元数据编码非法")

	// 认证与授权错误
	ErrUnauthorized       = errors.New("用户未授权")
	ErrTokenInvalid       = errors.New("认证 Token 无效或已过期")
	ErrInvalidCredentials = errors.New("用户名或密码不正确")
	ErrUserAlreadyExists  = errors.New("该用户名已被注册")
	ErrEmailAlreadyExists = errors.New("邮箱已被注册")

	// 资源未找到错误
	ErrUserNotFound          = errors.New("用户不存在")
	ErrFileNotFound          = errors.New("文件不存在")
	ErrUploadSessionNotFound = errors.New("上传会话不存在或已过期")

	// 业务逻辑冲突
	ErrOffsetMismatch  = errors.New("上传偏移量与服务端不一致")
	ErrSessionConflict = errors.New("同一上传标识已绑定其他存储键")

	// 数据库与外部服务错误
	ErrDatabaseError    = errors.New("数据库操作失败")
	ErrStorageError     = errors.New("存储服务操作失败")
	ErrMQError          = errors.New("消息队列操作失败")
	ErrCompletionFailed = errors.New("上传收尾失败，可重试最后一个分片")
)
