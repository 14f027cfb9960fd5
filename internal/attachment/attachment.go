// Package attachment stores uploaded files (declaration photos, supporting
// documents, chat files) and hands back an object key as the stored reference.
package attachment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/segmentio/ksuid"

	dErrors "togoretrouve/pkg/domain-errors"
)

// Scope groups objects by the entity they belong to.
type Scope string

const (
	ScopeDeclarationPhoto Scope = "declarations"
	ScopeClaimDocument    Scope = "claims"
	ScopeMessageFile      Scope = "messages"
)

var allowedTypes = []string{
	"image/jpeg",
	"image/png",
	"image/webp",
	"image/gif",
	"application/pdf",
}

// Backend is the byte store behind the service.
type Backend interface {
	Put(ctx context.Context, key, contentType string, r io.Reader, size int64) error
	URL(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Upload is a file received from a client.
type Upload struct {
	Filename string
	Size     int64
	Body     io.Reader
}

// Object is the stored reference returned to callers.
type Object struct {
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

type Service struct {
	backend Backend
	maxSize int64
	logger  *slog.Logger
}

func NewService(backend Backend, maxSize int64, logger *slog.Logger) *Service {
	if maxSize <= 0 {
		maxSize = 10 << 20
	}
	return &Service{backend: backend, maxSize: maxSize, logger: logger}
}

// Save sniffs the content type, rejects anything that is not an image or a
// PDF, and stores the bytes under "<scope>/<ksuid><ext>".
func (s *Service) Save(ctx context.Context, scope Scope, up Upload) (*Object, error) {
	if up.Size <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "file is empty")
	}
	if up.Size > s.maxSize {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("file exceeds %d bytes", s.maxSize))
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(up.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read upload")
	}
	head = head[:n]
	contentType := http.DetectContentType(head)
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	if !slices.Contains(allowedTypes, contentType) {
		return nil, dErrors.New(dErrors.CodeValidation, "unsupported file type "+contentType)
	}

	key := fmt.Sprintf("%s/%s%s", scope, ksuid.New().String(), strings.ToLower(path.Ext(up.Filename)))
	body := io.MultiReader(bytes.NewReader(head), up.Body)
	if err := s.backend.Put(ctx, key, contentType, body, up.Size); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeDependencyFailure, "failed to store file")
	}
	return &Object{Key: key, ContentType: contentType, Size: up.Size}, nil
}

// URL resolves a stored key to a retrievable URL.
func (s *Service) URL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	u, err := s.backend.URL(ctx, key)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeDependencyFailure, "failed to resolve file")
	}
	return u, nil
}

// Discard removes an object that lost its owner, e.g. after a failed write.
// Failures are logged only.
func (s *Service) Discard(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.backend.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.WarnContext(ctx, "failed to discard stored file", "key", key, "error", err)
	}
}

// FromRequest reads the multipart file field of r.
func FromRequest(r *http.Request, field string, maxSize int64) (Upload, func(), error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxSize+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		return Upload{}, nil, dErrors.New(dErrors.CodeBadRequest, "expected a multipart form")
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return Upload{}, nil, dErrors.New(dErrors.CodeValidation, "missing file field "+field)
	}
	return Upload{Filename: header.Filename, Size: header.Size, Body: file}, closer(file), nil
}

func closer(f multipart.File) func() {
	return func() { _ = f.Close() }
}

// MemoryBackend keeps objects in process memory when MinIO is not configured.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[string][]byte
	baseURL string
}

func NewMemoryBackend(baseURL string) *MemoryBackend {
	return &MemoryBackend{objects: make(map[string][]byte), baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (b *MemoryBackend) Put(_ context.Context, key, _ string, r io.Reader, _ int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return nil
}

func (b *MemoryBackend) URL(_ context.Context, key string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.objects[key]; !ok {
		return "", fmt.Errorf("object %s not found", key)
	}
	return b.baseURL + "/" + key, nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

// Get returns the stored bytes of key.
func (b *MemoryBackend) Get(key string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.objects[key]
	return data, ok
}

// Register serves stored objects under /files so URLs built with a "/files"
// base resolve when MinIO is not configured.
func (b *MemoryBackend) Register(r chi.Router) {
	r.Get("/files/*", b.serve)
}

func (b *MemoryBackend) serve(w http.ResponseWriter, r *http.Request) {
	data, ok := b.Get(chi.URLParam(r, "*"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "private, max-age=300")
	_, _ = w.Write(data)
}
