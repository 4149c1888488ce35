package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/3Eeeecho/go-fileshare/internal/config"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/cache"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/storage"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/utils"
	"github.com/3Eeeecho/go-fileshare/internal/repositories"
	"github.com/3Eeeecho/go-fileshare/internal/services/uploader"
)

const testUserID uint64 = 42

func newUploadTestRouter(t *testing.T) (*gin.Engine, *repositories.MemoryFileRepository) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{}
	cfg.Storage.Type = "memory"
	cfg.MinIO.BucketName = "test-bucket"
	cfg.Upload.MaxUploadSize = 1 << 30
	cfg.Upload.SessionTTL = time.Hour

	fileRepo := repositories.NewMemoryFileRepository()
	registry := uploader.NewRegistry(
		cache.NewMemoryCache(),
		storage.NewMemoryStorageService(),
		fileRepo,
		nil,
		uploader.Config{MaxUploadSize: cfg.Upload.MaxUploadSize, SessionTTL: cfg.Upload.SessionTTL},
	)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", testUserID)
	})
	g := r.Group("/api/v1")
	g.POST("/uploads", CreateUploadHandler(registry, cfg))
	g.PATCH("/uploads/:uploadID", UploadChunkHandler(registry))
	g.HEAD("/uploads/:uploadID", StatusUploadHandler(registry))
	g.DELETE("/uploads/:uploadID", CancelUploadHandler(registry))
	return r, fileRepo
}

func metadataHeader(pairs map[string]string) string {
	return utils.SerializeUploadMetadata(pairs)
}

func createSession(t *testing.T, r *gin.Engine, length string, metadata map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", nil)
	if length != "" {
		req.Header.Set("Upload-Length", length)
	}
	if metadata != nil {
		req.Header.Set("Upload-Metadata", metadataHeader(metadata))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func uploadIDFromResponse(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Data struct {
			UploadID string `json:"upload_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if body.Data.UploadID == "" {
		t.Fatalf("响应缺少 upload_id: %s", w.Body.String())
	}
	return body.Data.UploadID
}

func patchChunk(t *testing.T, r *gin.Engine, uploadID, offset, data string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/uploads/"+uploadID, strings.NewReader(data))
	req.Header.Set("Upload-Offset", offset)
	req.ContentLength = int64(len(data))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestUploadLifecycle(t *testing.T) {
	r, fileRepo := newUploadTestRouter(t)

	w := createSession(t, r, "11", map[string]string{"filename": "报告.pdf", "fingerprint": "abc"})
	if w.Code != http.StatusCreated {
		t.Fatalf("创建会话状态码 = %d, 期望 201: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Upload-Offset"); got != "0" {
		t.Errorf("Upload-Offset = %q, 期望 0", got)
	}
	if w.Header().Get("Location") == "" {
		t.Error("缺少 Location 响应头")
	}
	if w.Header().Get("Upload-Expires") == "" {
		t.Error("缺少 Upload-Expires 响应头")
	}
	uploadID := uploadIDFromResponse(t, w)

	// 分两块上传 "hello world"
	w = patchChunk(t, r, uploadID, "0", "hello ")
	if w.Code != http.StatusOK {
		t.Fatalf("第一块状态码 = %d: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Upload-Offset"); got != "6" {
		t.Errorf("第一块后 Upload-Offset = %q, 期望 6", got)
	}

	w = patchChunk(t, r, uploadID, "6", "world")
	if w.Code != http.StatusOK {
		t.Fatalf("第二块状态码 = %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Data struct {
			Offset    int64 `json:"offset"`
			Completed bool  `json:"completed"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if body.Data.Offset != 11 || !body.Data.Completed {
		t.Errorf("最终状态 offset=%d completed=%v, 期望 11/true", body.Data.Offset, body.Data.Completed)
	}

	files, err := fileRepo.FindByUserID(context.Background(), testUserID)
	if err != nil {
		t.Fatalf("查询文件记录失败: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("文件记录数 = %d, 期望 1", len(files))
	}
	if files[0].FileName != "报告.pdf" || files[0].Size != 11 {
		t.Errorf("文件记录 = %q/%d, 期望 报告.pdf/11", files[0].FileName, files[0].Size)
	}
}

func TestCreateRequiresLengthAndFilename(t *testing.T) {
	r, _ := newUploadTestRouter(t)

	w := createSession(t, r, "", map[string]string{"filename": "a.txt"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("缺少 Upload-Length 状态码 = %d, 期望 400", w.Code)
	}

	w = createSession(t, r, "10", map[string]string{"filetype": "text/plain"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("缺少 filename 状态码 = %d, 期望 400", w.Code)
	}

	w = createSession(t, r, "-5", map[string]string{"filename": "a.txt"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("负长度状态码 = %d, 期望 400", w.Code)
	}
}

func TestCreateWithFingerprintIsIdempotent(t *testing.T) {
	r, _ := newUploadTestRouter(t)
	meta := map[string]string{"filename": "a.bin", "fingerprint": "same-file"}

	w1 := createSession(t, r, "4", meta)
	if w1.Code != http.StatusCreated {
		t.Fatalf("首次创建状态码 = %d", w1.Code)
	}
	id1 := uploadIDFromResponse(t, w1)

	if w := patchChunk(t, r, id1, "0", "ab"); w.Code != http.StatusOK {
		t.Fatalf("分块上传失败: %d", w.Code)
	}

	// 重复创建命中同一会话，偏移量保留
	w2 := createSession(t, r, "4", meta)
	if w2.Code != http.StatusOK {
		t.Fatalf("重复创建状态码 = %d, 期望 200: %s", w2.Code, w2.Body.String())
	}
	if id2 := uploadIDFromResponse(t, w2); id2 != id1 {
		t.Errorf("重复创建返回了不同的 upload_id: %s vs %s", id2, id1)
	}
	if got := w2.Header().Get("Upload-Offset"); got != "2" {
		t.Errorf("恢复后 Upload-Offset = %q, 期望 2", got)
	}
}

func TestChunkOffsetConflictCarriesServerOffset(t *testing.T) {
	r, _ := newUploadTestRouter(t)

	w := createSession(t, r, "10", map[string]string{"filename": "a.bin"})
	uploadID := uploadIDFromResponse(t, w)

	if w := patchChunk(t, r, uploadID, "0", "abcd"); w.Code != http.StatusOK {
		t.Fatalf("分块上传失败: %d", w.Code)
	}

	// 错误的偏移量：服务端权威偏移量通过响应头返回
	w = patchChunk(t, r, uploadID, "0", "abcd")
	if w.Code != http.StatusConflict {
		t.Fatalf("偏移量冲突状态码 = %d, 期望 409: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Upload-Offset"); got != "4" {
		t.Errorf("冲突响应 Upload-Offset = %q, 期望 4", got)
	}
}

func TestChunkOnUnknownSession(t *testing.T) {
	r, _ := newUploadTestRouter(t)

	w := patchChunk(t, r, "no-such-session", "0", "data")
	if w.Code != http.StatusNotFound {
		t.Errorf("未知会话状态码 = %d, 期望 404", w.Code)
	}

	req := httptest.NewRequest(http.MethodHead, "/api/v1/uploads/no-such-session", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("未知会话 HEAD 状态码 = %d, 期望 404", rec.Code)
	}
}

func TestStatusReportsProgress(t *testing.T) {
	r, _ := newUploadTestRouter(t)

	w := createSession(t, r, "8", map[string]string{"filename": "a.bin"})
	uploadID := uploadIDFromResponse(t, w)

	if w := patchChunk(t, r, uploadID, "0", "abc"); w.Code != http.StatusOK {
		t.Fatalf("分块上传失败: %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodHead, "/api/v1/uploads/"+uploadID, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("HEAD 状态码 = %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Upload-Offset"); got != "3" {
		t.Errorf("Upload-Offset = %q, 期望 3", got)
	}
	if got := rec.Header().Get("Upload-Length"); got != "8" {
		t.Errorf("Upload-Length = %q, 期望 8", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, 期望 no-store", got)
	}
}

func TestCancelUpload(t *testing.T) {
	r, _ := newUploadTestRouter(t)

	w := createSession(t, r, "8", map[string]string{"filename": "a.bin"})
	uploadID := uploadIDFromResponse(t, w)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/uploads/"+uploadID, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("取消状态码 = %d, 期望 204", rec.Code)
	}

	// 取消后会话不存在
	if w := patchChunk(t, r, uploadID, "0", "ab"); w.Code != http.StatusNotFound {
		t.Errorf("取消后上传状态码 = %d, 期望 404", w.Code)
	}

	// 重复取消依然成功
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/uploads/"+uploadID, nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("重复取消状态码 = %d, 期望 204", rec.Code)
	}
}
