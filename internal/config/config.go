package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 结构体包含所有应用的配置
type Config struct {
	Server        ServerConfig        `mapstructure:"server"` // `mapstructure` 标签用于Viper绑定结构体
	MySQL         MySQLConfig         `mapstructure:"mysql"`
	Redis         RedisConfig         `mapstructure:"redis"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	AliyunOSS     AliyunOSSConfig     `mapstructure:"aliyun_oss"`
	RabbitMQ      RabbitMQConfig      `mapstructure:"rabbitmq"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Storage       StorageConfig       `mapstructure:"storageconfig"`
	Upload        UploadConfig        `mapstructure:"upload"`
	Log           LogConfig           `mapstructure:"log"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// MySQLConfig 数据库配置
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MinIOConfig MinIO配置
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

type AliyunOSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"` // 例如: oss-cn-hangzhou.aliyuncs.com
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// RabbitMQConfig RabbitMQ配置
type RabbitMQConfig struct {
	URL string `mapstructure:"url"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	SecretKey string        `mapstructure:"secret_key"`
	ExpiresIn time.Duration `mapstructure:"expires_in"` // 使用 time.Duration 更清晰
	Issuer    string        `mapstructure:"issuer"`
}

type StorageConfig struct {
	Type               string `mapstructure:"type"`                 // minio / aliyun_oss / memory(仅开发调试)
	PresignedURLExpiry int    `mapstructure:"presigned_url_expiry"` // 预签名URL有效期（分钟）
}

// UploadConfig 断点续传上传会话配置
type UploadConfig struct {
	MaxUploadSize int64         `mapstructure:"max_upload_size"` // 单个文件大小上限（字节）
	SessionTTL    time.Duration `mapstructure:"session_ttl"`     // 上传会话有效期
	SweepInterval time.Duration `mapstructure:"sweep_interval"`  // 过期会话清理轮询间隔
}

// zap日志配置
type LogConfig struct {
	OutputPath string `mapstructure:"output_path"`
	ErrorPath  string `mapstructure:"error_path"`
	Level      string `mapstructure:"level"`
}

// ElasticsearchConfig 定义 Elasticsearch 连接配置
type ElasticsearchConfig struct {
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	FilesIndex string   `mapstructure:"files_index"`
}

var AppConfig *Config // 全局应用配置实例

// LoadConfig 加载配置
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")             // 配置文件名 (不带扩展名)
	viper.SetConfigType("yaml")               // 配置文件类型
	viper.AddConfigPath(".")                  // 在当前目录查找配置文件
	viper.AddConfigPath("./configs")          // 也可以添加其他路径，例如 ./configs/
	viper.AddConfigPath("/etc/go-fileshare/") // 生产环境常见路径

	// 读取环境变量，环境变量名将自动转换为大写，并用下划线替换点
	// 例如：SERVER.PORT 对应环境变量 SERVER_PORT
	viper.SetEnvPrefix("GO_FILESHARE")
	viper.AutomaticEnv()

	// 确保Viper能正确映射如 MYSQL_DSN 到 mysql.dsn
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	// 上传相关默认值，配置文件缺省时仍可启动
	viper.SetDefault("upload.max_upload_size", int64(5)<<30) // 5GB
	viper.SetDefault("upload.session_ttl", 24*time.Hour)
	viper.SetDefault("upload.sweep_interval", 30*time.Second)
	viper.SetDefault("storageconfig.presigned_url_expiry", 15)
	viper.SetDefault("elasticsearch.files_index", "fileshare-files")

	// 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// 配置文件未找到，但这不是致命错误，因为我们可以依赖环境变量或默认值
			log.Println("Warning: config file not found, using environment variables or default values.")
			return nil, err
		} else {
			// 其他读取错误，例如配置文件格式错误
			log.Fatalf("Fatal error reading config file: %s \n", err)
			return nil, err
		}
	}

	// 将读取到的配置绑定到结构体
	AppConfig = &Config{}
	if err := viper.Unmarshal(AppConfig); err != nil {
		log.Fatalf("Fatal error unmarshaling config: %s \n", err)
		return nil, err
	}

	log.Println("Configuration loaded successfully with Viper.")
	return AppConfig, nil
}
