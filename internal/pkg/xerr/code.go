package xerr

// 定义了统一的业务错误码
const (
	CodeSuccess = 20000 // 通用成功码

	// --- 客户端请求错误系列 (400xx) ---
	CodeInvalidParams       = 40000 // 无效的请求参数
	CodeInvalidUploadLength = 40001 // 缺失或非法的上传总长度
	CodeInvalidOffset       = 40002 // 缺失或非法的上传偏移量
	CodeFileTooLarge        = 40003 // 文件过大
	CodeFileNameMissing     = 40004 // 上传元数据缺少文件名
	CodeInvalidMetadata     = 40005 // 上传元数据编码非法

	// --- 认证与授权错误系列 (401xx / 403xx) ---
	CodeUnauthorized       = 40100 // 通用未授权
	CodeTokenInvalid       = 40101 // Token 无效或过期
	CodeInvalidCredentials = 40102 // 用户名或密码错误
	CodeForbidden          = 40300 // 通用无权限

	// --- 资源未找到错误系列 (404xx) ---
	CodeNotFound              = 40400 // 通用资源未找到
	CodeUserNotFound          = 40401 // 用户不存在
	CodeFileNotFound          = 40402 // 文件不存在
	CodeUploadSessionNotFound = 40403 // 上传会话不存在

	// --- 业务逻辑冲突系列 (409xx) ---
	CodeUserAlreadyExists  = 40900 // 用户名已存在
	CodeEmailAlreadyExists = 40901 // 邮箱已存在
	CodeOffsetMismatch     = 40902 // 上传偏移量与服务端不一致
	CodeSessionConflict    = 40903 // 同一上传标识绑定了不同的存储键

	// --- 服务器内部错误系列 (500xx) ---
	CodeInternalServerError = 50000 // 服务器内部通用错误
	CodeDatabaseError       = 50001 // 数据库操作失败
	CodeStorageError        = 50002 // 存储服务操作失败（如MinIO）
	CodeMQError             = 50003 // 消息队列操作失败
	CodeCompletionFailed    = 50004 // 上传收尾失败（可重试）
)
