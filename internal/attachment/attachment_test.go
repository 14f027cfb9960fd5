package attachment

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "togoretrouve/pkg/domain-errors"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func TestServiceSave(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend("http://files.local")
	svc := NewService(backend, 1024, slog.New(slog.NewTextHandler(io.Discard, nil)))

	t.Run("stores an image under a scoped ksuid key", func(t *testing.T) {
		obj, err := svc.Save(ctx, ScopeDeclarationPhoto, Upload{Filename: "Wallet.PNG", Size: int64(len(pngHeader)), Body: bytes.NewReader(pngHeader)})
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(obj.Key, "declarations/"))
		assert.True(t, strings.HasSuffix(obj.Key, ".png"))
		assert.Equal(t, "image/png", obj.ContentType)

		stored, ok := backend.Get(obj.Key)
		require.True(t, ok)
		assert.Equal(t, pngHeader, stored)

		url, err := svc.URL(ctx, obj.Key)
		require.NoError(t, err)
		assert.Equal(t, "http://files.local/"+obj.Key, url)
	})

	t.Run("rejects unsupported content", func(t *testing.T) {
		body := []byte("#!/bin/sh\necho hi\n")
		_, err := svc.Save(ctx, ScopeClaimDocument, Upload{Filename: "x.pdf", Size: int64(len(body)), Body: bytes.NewReader(body)})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects oversized files", func(t *testing.T) {
		_, err := svc.Save(ctx, ScopeMessageFile, Upload{Filename: "big.png", Size: 4096, Body: bytes.NewReader(pngHeader)})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects empty files", func(t *testing.T) {
		_, err := svc.Save(ctx, ScopeMessageFile, Upload{Filename: "empty.png", Body: bytes.NewReader(nil)})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestFromRequest(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "receipt.png")
	require.NoError(t, err)
	_, err = part.Write(pngHeader)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/claims/x/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	up, done, err := FromRequest(req, "file", 1024)
	require.NoError(t, err)
	defer done()
	assert.Equal(t, "receipt.png", up.Filename)
	assert.Equal(t, int64(len(pngHeader)), up.Size)

	_, _, err = FromRequest(httptest.NewRequest("POST", "/", strings.NewReader("{}")), "file", 1024)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func TestMemoryBackendServesFiles(t *testing.T) {
	backend := NewMemoryBackend("/files")
	require.NoError(t, backend.Put(context.Background(), "messages/abc.png", "image/png", bytes.NewReader(pngHeader), int64(len(pngHeader))))

	r := chi.NewRouter()
	backend.Register(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/files/messages/abc.png", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
	assert.Equal(t, pngHeader, rr.Body.Bytes())

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/files/messages/missing.png", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
