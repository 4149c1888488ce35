package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/3Eeeecho/go-fileshare/internal/models"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/logger"
	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"
)

// FileDocument 是写入 Elasticsearch 的文件文档
type FileDocument struct {
	UUID     string `json:"uuid"`
	UserID   uint64 `json:"user_id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type,omitempty"`
	Size     uint64 `json:"size"`
}

// Indexer 负责把文件元数据同步到 Elasticsearch 并提供搜索
type Indexer interface {
	IndexFile(ctx context.Context, file *models.File) error
	DeleteFile(ctx context.Context, uuid string) error
	Search(ctx context.Context, userID uint64, keyword string) ([]FileDocument, error)
}

type esIndexer struct {
	client *elasticsearch.Client
	index  string
}

var _ Indexer = (*esIndexer)(nil)

// NewIndexer 创建基于 Elasticsearch 的 Indexer
func NewIndexer(client *elasticsearch.Client, index string) Indexer {
	return &esIndexer{client: client, index: index}
}

func (i *esIndexer) IndexFile(ctx context.Context, file *models.File) error {
	doc := FileDocument{
		UUID:     file.UUID,
		UserID:   file.UserID,
		FileName: file.FileName,
		Size:     file.Size,
	}
	if file.MimeType != nil {
		doc.MimeType = *file.MimeType
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal file document: %w", err)
	}

	res, err := i.client.Index(
		i.index,
		bytes.NewReader(body),
		i.client.Index.WithDocumentID(file.UUID),
		i.client.Index.WithContext(ctx),
	)
	if err != nil {
		logger.Error("IndexFile: request failed", zap.String("uuid", file.UUID), zap.Error(err))
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		logger.Error("IndexFile: Elasticsearch returned error", zap.String("uuid", file.UUID), zap.String("status", res.Status()))
		return fmt.Errorf("failed to index file %s: %s", file.UUID, res.Status())
	}
	return nil
}

func (i *esIndexer) DeleteFile(ctx context.Context, uuid string) error {
	res, err := i.client.Delete(
		i.index,
		uuid,
		i.client.Delete.WithContext(ctx),
	)
	if err != nil {
		logger.Error("DeleteFile: request failed", zap.String("uuid", uuid), zap.Error(err))
		return err
	}
	defer res.Body.Close()

	// 文档不存在视为删除成功
	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("failed to delete document %s: %s", uuid, res.Status())
	}
	return nil
}

func (i *esIndexer) Search(ctx context.Context, userID uint64, keyword string) ([]FileDocument, error) {
	query := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": []any{
					map[string]any{
						"match": map[string]any{
							"file_name": keyword,
						},
					},
				},
				"filter": []any{
					map[string]any{
						"term": map[string]any{
							"user_id": userID,
						},
					},
				},
			},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("failed to encode search query: %w", err)
	}

	res, err := i.client.Search(
		i.client.Search.WithContext(ctx),
		i.client.Search.WithIndex(i.index),
		i.client.Search.WithBody(&buf),
	)
	if err != nil {
		logger.Error("Search: request failed", zap.Uint64("userID", userID), zap.Error(err))
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search failed: %s", res.Status())
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source FileDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	docs := make([]FileDocument, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		docs = append(docs, hit.Source)
	}
	return docs, nil
}
