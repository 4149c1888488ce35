package models

import "time"

// SessionPart 记录一个已提交分块的回执
type SessionPart struct {
	PartNumber int    `json:"part_number"`
	ETag       string `json:"etag"`
	Size       int64  `json:"size"`
}

// UploadSession 是断点续传会话的持久化状态
// 整个结构体以 JSON 形式保存在 Redis 中，key 为 upload:session:<uploadID>。
// 会话状态只允许由持有该 uploadID 锁的 goroutine 读写。
type UploadSession struct {
	UploadID      string            `json:"upload_id"`
	OwnerID       uint64            `json:"owner_id"`
	StorageBucket string            `json:"storage_bucket"`
	StorageKey    string            `json:"storage_key"`
	MultipartID   string            `json:"multipart_id"` // 对象存储侧的分块上传句柄
	TotalSize     int64             `json:"total_size"`
	UploadedSize  int64             `json:"uploaded_size"` // 已确认写入的字节数，即当前 offset
	Parts         []SessionPart     `json:"parts"`
	FileName      string            `json:"file_name"`
	ContentType   string            `json:"content_type"`
	Metadata      map[string]string `json:"metadata,omitempty"` // 客户端自定义元数据
	CreatedAt     time.Time         `json:"created_at"`
	ExpiresAt     time.Time         `json:"expires_at"`
	Completed     bool              `json:"completed"`
}

// NextPartNumber 返回下一个分块应该使用的编号，从 1 开始
func (s *UploadSession) NextPartNumber() int {
	return len(s.Parts) + 1
}

// RemainingSize 返回尚未上传的字节数
func (s *UploadSession) RemainingSize() int64 {
	return s.TotalSize - s.UploadedSize
}

// IsExpired 判断会话在给定时间点是否已过期
func (s *UploadSession) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// UploadStatus 是 HEAD 查询返回的会话状态快照
type UploadStatus struct {
	UploadID  string            `json:"upload_id"`
	Offset    int64             `json:"offset"`
	TotalSize int64             `json:"total_size"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Completed bool              `json:"completed"`
}
