package uploader

import "fmt"

// OffsetError 表示客户端声明的偏移量和服务端记录不一致
// ServerOffset 是服务端已确认的字节数，客户端应从这里继续上传。
type OffsetError struct {
	ServerOffset int64
	ClientOffset int64
}

func (e *OffsetError) Error() string {
	return fmt.Sprintf("上传偏移量不一致: 客户端声明 %d, 服务端记录 %d", e.ClientOffset, e.ServerOffset)
}
