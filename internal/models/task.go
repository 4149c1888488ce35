package models

// DeleteFileTask 是投递到删除队列的异步任务
type DeleteFileTask struct {
	FileID    uint64 `json:"file_id"`
	UUID      string `json:"uuid"`
	OssBucket string `json:"oss_bucket"`
	OssKey    string `json:"oss_key"`
}
