package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scionsync/scion/internal/crdt"
	"github.com/scionsync/scion/internal/realtime"
	"github.com/scionsync/scion/internal/vault"
)

type noopApplier struct{}

func (noopApplier) ApplyText(vaultName, fileID string, text []byte) (string, error) { return "", nil }
func (noopApplier) ApplyStructure(vaultName, fileID, path string, deleted bool) (string, error) {
	return "", nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	root := t.TempDir()
	registry := vault.NewRegistry(root, nil)
	t.Cleanup(func() { _ = registry.Close() })

	store := crdt.NewStore(filepath.Join(root, ".crdt"))
	hub := realtime.NewHub(store, noopApplier{}, nil)

	return NewServer(registry, hub, nil)
}

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func doRequest(t *testing.T, h http.Handler, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s.Routes(), "GET", "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestWSStatusEmptyWithNoConnections(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s.Routes(), "GET", "/ws/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Empty(t, resp["connected_vaults"])
}

func TestSyncThenManifestThenFileGet(t *testing.T) {
	s := newTestServer(t)
	h := s.Routes()

	rec := doRequest(t, h, "POST", "/vault/notes/sync",
		`{"path":"a.md","content":"`+b64("hello")+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var syncResp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &syncResp))
	require.Equal(t, true, syncResp["success"])
	require.NotEmpty(t, syncResp["file_id"])

	rec = doRequest(t, h, "GET", "/vault/notes/manifest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var manifest map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &manifest))
	files := manifest["files"].([]any)
	require.Len(t, files, 1)

	rec = doRequest(t, h, "GET", "/vault/notes/file/a.md", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "hello", rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-File-Commit"))
}

func TestSyncRejectsReservedPath(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s.Routes(), "POST", "/vault/notes/sync",
		`{"path":".scion/manifest.json","content":"`+b64("x")+`"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFileGetMissingPathReturns404(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s.Routes(), "GET", "/vault/notes/file/missing.md", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidVaultNameReturns400(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s.Routes(), "GET", "/vault/bad%3Avault/manifest", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncV2AtomicStopsOnFailure(t *testing.T) {
	s := newTestServer(t)
	h := s.Routes()

	body := `{"operations":[
		{"type":"create","path":"a.md","content":"` + b64("a") + `"},
		{"type":"delete","file_id":"does-not-exist"}
	]}`
	rec := doRequest(t, h, "POST", "/vault/notes/sync/v2", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, false, resp["success"])

	// Processing stops at the failing op, but the create that already
	// committed before it is not rolled back.
	rec = doRequest(t, h, "GET", "/vault/notes/file/a.md", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDetectRenameAndExplicitRename(t *testing.T) {
	s := newTestServer(t)
	h := s.Routes()

	rec := doRequest(t, h, "POST", "/vault/notes/sync", `{"path":"old.md","content":"`+b64("body")+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var syncResp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &syncResp))
	fileID := syncResp["file_id"].(string)

	rec = doRequest(t, h, "POST", "/vault/notes/rename",
		`{"file_id":"`+fileID+`","old_path":"old.md","new_path":"new.md"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, "GET", "/vault/notes/file/new.md", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "body", rec.Body.String())

	rec = doRequest(t, h, "POST", "/vault/notes/detect-rename",
		`{"missing_path":"old.md","file_id":"`+fileID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var detectResp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detectResp))
	require.Equal(t, true, detectResp["found"])
	require.Equal(t, "new.md", detectResp["new_path"])
}

func TestFileDeleteThenFileByIDNotFound(t *testing.T) {
	s := newTestServer(t)
	h := s.Routes()

	rec := doRequest(t, h, "POST", "/vault/notes/sync", `{"path":"a.md","content":"`+b64("body")+`"}`)
	var syncResp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &syncResp))
	fileID := syncResp["file_id"].(string)

	rec = doRequest(t, h, "DELETE", "/vault/notes/file/a.md", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, "GET", "/vault/notes/file-by-id/"+fileID, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusReportsChangesSince(t *testing.T) {
	s := newTestServer(t)
	h := s.Routes()

	rec := doRequest(t, h, "GET", "/vault/notes/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var first map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	baseline := first["head_commit"].(string)

	rec = doRequest(t, h, "POST", "/vault/notes/sync", `{"path":"a.md","content":"`+b64("x")+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, "GET", "/vault/notes/status?since="+baseline, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var second map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	require.Equal(t, true, second["has_changes"])
	changed := second["changed_files"].([]any)
	require.Contains(t, changed, "a.md")
}
