package repositories

import (
	"context"
	"sort"
	"sync"

	"github.com/3Eeeecho/go-fileshare/internal/models"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/xerr"
)

// MemoryFileRepository 是 FileRepository 的内存实现
// 用于单元测试和本地开发，不依赖 MySQL。
type MemoryFileRepository struct {
	mu     sync.Mutex
	files  map[uint64]*models.File
	nextID uint64
}

var _ FileRepository = (*MemoryFileRepository)(nil)

func NewMemoryFileRepository() *MemoryFileRepository {
	return &MemoryFileRepository{
		files: make(map[uint64]*models.File),
	}
}

func (r *MemoryFileRepository) Create(ctx context.Context, file *models.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files {
		if f.UUID == file.UUID {
			return xerr.ErrDatabaseError // unique 约束冲突
		}
	}
	r.nextID++
	file.ID = r.nextID
	clone := *file
	r.files[file.ID] = &clone
	return nil
}

func (r *MemoryFileRepository) FindByID(ctx context.Context, id uint64) (*models.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok {
		return nil, xerr.ErrFileNotFound
	}
	clone := *f
	return &clone, nil
}

func (r *MemoryFileRepository) FindByUUID(ctx context.Context, uuid string) (*models.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files {
		if f.UUID == uuid {
			clone := *f
			return &clone, nil
		}
	}
	return nil, xerr.ErrFileNotFound
}

func (r *MemoryFileRepository) FindByUserID(ctx context.Context, userID uint64) ([]models.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.File
	for _, f := range r.files {
		if f.UserID == userID && f.Status == models.StatusNormal {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryFileRepository) Update(ctx context.Context, file *models.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[file.ID]; !ok {
		return xerr.ErrFileNotFound
	}
	clone := *file
	r.files[file.ID] = &clone
	return nil
}

func (r *MemoryFileRepository) UpdateFileStatus(ctx context.Context, id uint64, status uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok {
		return xerr.ErrFileNotFound
	}
	f.Status = status
	return nil
}

func (r *MemoryFileRepository) PermanentDelete(ctx context.Context, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[id]; !ok {
		return xerr.ErrFileNotFound
	}
	delete(r.files, id)
	return nil
}
