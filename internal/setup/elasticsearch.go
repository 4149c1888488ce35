package setup

import (
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"

	"github.com/3Eeeecho/go-fileshare/internal/config"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/logger"
)

// InitElasticsearchClient 初始化 Elasticsearch 客户端并验证连接
// 未配置地址时返回 (nil, nil)，搜索功能在此情况下被禁用
func InitElasticsearchClient(cfg *config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	if len(cfg.Addresses) == 0 {
		logger.Info("Elasticsearch not configured, search disabled")
		return nil, nil
	}

	esCfg := elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	// 尝试连接并获取集群信息，验证连接是否成功
	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("error connecting to Elasticsearch: %s", res.Status())
	}

	logger.Info("Elasticsearch client initialized successfully.", zap.String("cluster_name", res.String()))
	return client, nil
}
