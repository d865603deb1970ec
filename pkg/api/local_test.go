package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFileServer_IsAllowedPath(t *testing.T) {
	srv := &localFileServer{
		log:  logrus.New(),
		root: "/data/dbt_logs",
	}

	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{name: "valid nested path", path: "Production_12/run_1001_details.json", expected: true},
		{name: "valid top level path", path: "retrieval_report.json", expected: true},
		{name: "empty path", path: "", expected: false},
		{name: "path traversal", path: "Production_12/../../etc/passwd", expected: false},
		{name: "dot dot only", path: "..", expected: false},
		{name: "absolute path", path: "/etc/passwd", expected: false},
		{name: "trailing slash", path: "Production_12/", expected: false},
		{name: "double slash", path: "Production_12//run_1001_logs.txt", expected: false},
		{name: "dot segment", path: "Production_12/./run_1001_logs.txt", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, srv.isAllowedPath(tt.path))
		})
	}
}

func TestLocalFileServer_ServeFile(t *testing.T) {
	root := t.TempDir()
	envDir := filepath.Join(root, "Production_12")
	require.NoError(t, os.MkdirAll(envDir, 0o755))
	require.NoError(
		t, os.WriteFile(
			filepath.Join(envDir, "run_1001_details.json"),
			[]byte(`{"id":1001}`), 0o644,
		),
	)

	srv := newLocalFileServer(logrus.New(), root)

	t.Run("serves existing file", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/Production_12/run_1001_details.json", nil)
		rec := httptest.NewRecorder()

		err := srv.ServeFile(rec, req, "Production_12/run_1001_details.json")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `{"id":1001}`)
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/Production_12/nope.json", nil)
		rec := httptest.NewRecorder()

		err := srv.ServeFile(rec, req, "Production_12/nope.json")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
		_ = rec // response not written
	})

	t.Run("rejects path traversal", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/../../etc/passwd", nil)
		rec := httptest.NewRecorder()

		err := srv.ServeFile(rec, req, "../../etc/passwd")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not allowed")
		_ = rec
	})
}
