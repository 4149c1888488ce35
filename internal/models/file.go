package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	StatusDeleted  = 0 // 已删除 (软删除)
	StatusNormal   = 1 // 正常
	StatusBanned   = 2 // 被禁用
	StatusDeleting = 3 // 待删除 (进入异步删除队列)
)

// File 对应 files 表
// 一条记录表示一个已完成上传、可供下载的文件。
type File struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID      string         `gorm:"type:varchar(64);unique;not null" json:"uuid"` // 上传标识，同时是文件的对外唯一标识
	UserID    uint64         `gorm:"not null;index" json:"user_id"`
	FileName  string         `gorm:"type:varchar(255);not null" json:"filename"`
	Size      uint64         `gorm:"type:bigint unsigned;not null;default:0" json:"size"`
	MimeType  *string        `gorm:"type:varchar(128);default:null" json:"mime_type"`
	OssBucket *string        `gorm:"type:varchar(64);default:null" json:"oss_bucket"`
	OssKey    *string        `gorm:"type:varchar(255);default:null" json:"oss_key"`
	ETag      *string        `gorm:"type:varchar(64);default:null" json:"etag"` // 对象存储返回的整体摘要
	Metadata  *string        `gorm:"type:text;default:null" json:"metadata"`    // 客户端自定义元数据，JSON 编码
	Status    uint8          `gorm:"type:tinyint unsigned;not null;default:1" json:"status"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	// 定义 GORM 关联，方便预加载
	User *User `gorm:"foreignKey:UserID" json:"-"`
}

// TableName 指定 GORM 使用的表名
func (File) TableName() string {
	return "files"
}
