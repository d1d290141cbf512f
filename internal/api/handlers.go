package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/scionsync/scion/internal/apperr"
	"github.com/scionsync/scion/internal/batch"
	"github.com/scionsync/scion/internal/content"
	"github.com/scionsync/scion/internal/engine"
	"github.com/scionsync/scion/internal/rename"
	"github.com/scionsync/scion/internal/vaultname"
)

// handleHealth backs GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWSStatus backs GET /ws/status, projecting the fan-out hub's
// connection table.
func (s *Server) handleWSStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"connected_vaults": s.hub.ConnectedVaults(),
		"clients_by_vault": s.hub.ClientsByVault(),
	})
}

type manifestFileJSON struct {
	FileID    string `json:"file_id"`
	Path      string `json:"path"`
	Hash      string `json:"hash"`
	Commit    string `json:"commit"`
	UpdatedAt int64  `json:"updated_at"`
}

// handleManifest backs GET /vault/:v/manifest.
func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	v, err := s.registry.Get(r.PathValue("vault"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	records, err := v.Identity.ListActive()
	if err != nil {
		writeError(w, s.logger, apperr.Fatalf("manifest", v.Name, err))
		return
	}
	head, _, err := v.Content.Head()
	if err != nil {
		writeError(w, s.logger, apperr.Fatalf("manifest", v.Name, err))
		return
	}

	files := make([]manifestFileJSON, 0, len(records))
	for _, rec := range records {
		f := manifestFileJSON{FileID: rec.FileID, Path: rec.CurrentPath, UpdatedAt: rec.UpdatedAt}
		if rec.ContentHash != nil {
			f.Hash = *rec.ContentHash
		}
		if rec.LastCommit != nil {
			f.Commit = *rec.LastCommit
		}
		files = append(files, f)
	}

	writeJSON(w, http.StatusOK, map[string]any{"files": files, "head_commit": head})
}

// handleStatus backs GET /vault/:v/status?since=<c>.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	v, err := s.registry.Get(r.PathValue("vault"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	since := r.URL.Query().Get("since")
	head, changed, err := v.Content.ChangedSince(since)
	if err != nil {
		writeError(w, s.logger, apperr.Fatalf("status", v.Name, err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"head_commit":   head,
		"changed_files": nonNilStrings(changed),
		"has_changes":   len(changed) > 0,
	})
}

// handleFileGet backs GET /vault/:v/file/*path.
func (s *Server) handleFileGet(w http.ResponseWriter, r *http.Request) {
	v, err := s.registry.Get(r.PathValue("vault"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	path := r.PathValue("path")
	if vaultname.IsReservedPath(path) {
		writeError(w, s.logger, apperr.NotFoundf("file", path, "no such file %q", path))
		return
	}

	data, ok, err := v.Content.ReadCurrent(path)
	if err != nil {
		writeError(w, s.logger, apperr.Fatalf("file", path, err))
		return
	}
	if !ok {
		writeError(w, s.logger, apperr.NotFoundf("file", path, "no such file %q", path))
		return
	}
	commit, _, err := v.Content.Head()
	if err != nil {
		writeError(w, s.logger, apperr.Fatalf("file", path, err))
		return
	}

	w.Header().Set("X-File-Commit", commit)
	w.Header().Set("X-File-Hash", content.HashBytes(data))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleFileDelete backs DELETE /vault/:v/file/*path.
func (s *Server) handleFileDelete(w http.ResponseWriter, r *http.Request) {
	v, err := s.registry.Get(r.PathValue("vault"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	path := r.PathValue("path")
	if vaultname.IsReservedPath(path) {
		writeError(w, s.logger, apperr.NotFoundf("file", path, "no such file %q", path))
		return
	}

	v.Lock()
	defer v.Unlock()

	rec, err := v.Identity.GetByPath(path)
	if err != nil {
		writeError(w, s.logger, apperr.Fatalf("file", path, err))
		return
	}
	if rec == nil {
		writeError(w, s.logger, apperr.NotFoundf("file", path, "no such file %q", path))
		return
	}

	res, err := engine.Delete(v.Content, v.Identity, rec.FileID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "commit": res.Commit})
}

// handleFileByID backs GET /vault/:v/file-by-id/:id.
func (s *Server) handleFileByID(w http.ResponseWriter, r *http.Request) {
	v, err := s.registry.Get(r.PathValue("vault"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	fileID := r.PathValue("id")

	rec, err := v.Identity.GetByID(fileID)
	if err != nil {
		writeError(w, s.logger, apperr.Fatalf("file-by-id", fileID, err))
		return
	}
	if rec == nil {
		writeError(w, s.logger, apperr.NotFoundf("file-by-id", fileID, "no active file with id %q", fileID))
		return
	}

	head, _, err := v.Content.Head()
	if err != nil {
		writeError(w, s.logger, apperr.Fatalf("file-by-id", fileID, err))
		return
	}

	previous, err := v.Identity.AllPreviousPaths(fileID)
	if err != nil {
		writeError(w, s.logger, apperr.Fatalf("file-by-id", fileID, err))
		return
	}
	candidates := append([]string{rec.CurrentPath}, reverseStrings(previous)...)

	data, ok, err := v.Content.ReadAtCandidates(head, candidates)
	if err != nil {
		writeError(w, s.logger, apperr.Fatalf("file-by-id", fileID, err))
		return
	}
	if !ok {
		writeError(w, s.logger, apperr.NotFoundf("file-by-id", fileID, "no content for file %q", fileID))
		return
	}

	w.Header().Set("X-File-Id", rec.FileID)
	w.Header().Set("X-File-Path", rec.CurrentPath)
	w.Header().Set("X-File-Commit", head)
	w.Header().Set("X-File-Hash", content.HashBytes(data))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type syncRequest struct {
	Path       string  `json:"path"`
	Content    string  `json:"content"`
	BaseCommit *string `json:"base_commit"`
}

// handleSync backs POST /vault/:v/sync.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	v, err := s.registry.Get(r.PathValue("vault"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, apperr.Validationf("sync", "", "malformed request body: %v", err))
		return
	}
	if req.Path == "" {
		writeError(w, s.logger, apperr.Validationf("sync", "", "path is required"))
		return
	}
	if vaultname.IsReservedPath(req.Path) {
		writeError(w, s.logger, apperr.Validationf("sync", req.Path, "path %q is reserved", req.Path))
		return
	}
	data, err := decodeBase64("sync", req.Content)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	v.Lock()
	defer v.Unlock()

	res, err := engine.Sync(v.Content, v.Identity, req.Path, data, req.BaseCommit)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	resp := map[string]any{
		"success":       true,
		"file_id":       res.FileID,
		"commit":        res.Commit,
		"hash":          res.Hash,
		"merged":        res.Merged,
		"has_conflicts": res.HasConflicts,
	}
	if res.HasConflicts {
		resp["merged_content"] = base64.StdEncoding.EncodeToString(res.MergedContent)
	}
	writeJSON(w, http.StatusOK, resp)
}

type syncV2Request struct {
	Operations []opJSON `json:"operations"`
	Atomic     *bool    `json:"atomic"`
}

type opJSON struct {
	Type       string  `json:"type"`
	Path       string  `json:"path"`
	FileID     string  `json:"file_id"`
	OldPath    string  `json:"old_path"`
	NewPath    string  `json:"new_path"`
	Content    string  `json:"content"`
	BaseCommit *string `json:"base_commit"`
}

// handleSyncV2 backs POST /vault/:v/sync/v2.
func (s *Server) handleSyncV2(w http.ResponseWriter, r *http.Request) {
	v, err := s.registry.Get(r.PathValue("vault"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req syncV2Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, apperr.Validationf("sync_v2", "", "malformed request body: %v", err))
		return
	}
	atomic := true
	if req.Atomic != nil {
		atomic = *req.Atomic
	}

	ops := make([]batch.Op, 0, len(req.Operations))
	for _, o := range req.Operations {
		ops = append(ops, batch.Op{
			Type:       batch.OpType(o.Type),
			Path:       o.Path,
			FileID:     o.FileID,
			OldPath:    o.OldPath,
			NewPath:    o.NewPath,
			Content:    o.Content,
			BaseCommit: o.BaseCommit,
		})
	}

	v.Lock()
	defer v.Unlock()

	result, err := batch.Run(v.Content, v.Identity, ops, atomic)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	status := http.StatusOK
	if atomic && !result.Success {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]any{
		"success":     result.Success,
		"results":     result.Results,
		"head_commit": result.HeadCommit,
	})
}

type detectRenameRequest struct {
	MissingPath string `json:"missing_path"`
	MissingHash string `json:"missing_hash"`
	FileID      string `json:"file_id"`
}

// handleDetectRename backs POST /vault/:v/detect-rename.
func (s *Server) handleDetectRename(w http.ResponseWriter, r *http.Request) {
	v, err := s.registry.Get(r.PathValue("vault"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req detectRenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, apperr.Validationf("detect-rename", "", "malformed request body: %v", err))
		return
	}
	if req.MissingPath == "" {
		writeError(w, s.logger, apperr.Validationf("detect-rename", "", "missing_path is required"))
		return
	}

	result, err := rename.Detect(v.Identity, req.MissingPath, req.MissingHash, req.FileID)
	if err != nil {
		writeError(w, s.logger, apperr.Fatalf("detect-rename", req.MissingPath, err))
		return
	}

	resp := map[string]any{"found": result.Found}
	if result.Found {
		resp["new_path"] = result.NewPath
		resp["file_id"] = result.FileID
		resp["detection_method"] = string(result.Method)
	}
	writeJSON(w, http.StatusOK, resp)
}

type renameRequest struct {
	FileID  string `json:"file_id"`
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
	Content string `json:"content"`
}

// handleRename backs POST /vault/:v/rename.
func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	v, err := s.registry.Get(r.PathValue("vault"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, apperr.Validationf("rename", "", "malformed request body: %v", err))
		return
	}
	if req.FileID == "" || req.OldPath == "" || req.NewPath == "" {
		writeError(w, s.logger, apperr.Validationf("rename", req.FileID, "file_id, old_path, and new_path are required"))
		return
	}

	var data []byte
	if req.Content != "" {
		var err error
		data, err = decodeBase64("rename", req.Content)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
	}

	v.Lock()
	defer v.Unlock()

	res, err := engine.Rename(v.Content, v.Identity, req.FileID, req.OldPath, req.NewPath, data)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"file_id": res.FileID,
		"commit":  res.Commit,
		"hash":    res.Hash,
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWebsocket backs WS /vault/:v/ws?deviceId=<id>, upgrading the
// connection and handing it to the fan-out hub for the lifetime of the
// session.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	vaultNameParam := r.PathValue("vault")
	if !vaultname.Valid(vaultNameParam) {
		writeError(w, s.logger, apperr.Validationf("ws", vaultNameParam, "invalid vault name %q", vaultNameParam))
		return
	}
	deviceID := r.URL.Query().Get("deviceId")
	if deviceID == "" {
		writeError(w, s.logger, apperr.Validationf("ws", vaultNameParam, "deviceId query parameter is required"))
		return
	}

	// Touch the registry first so the vault's stores exist before any
	// fan-out traffic tries to materialize into them.
	if _, err := s.registry.Get(vaultNameParam); err != nil {
		writeError(w, s.logger, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "vault", vaultNameParam, "device", deviceID, "error", err)
		return
	}
	s.hub.Connect(r.Context(), vaultNameParam, deviceID, conn)
}

func decodeBase64(op, encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apperr.Validationf(op, "", "content is not valid base64: %v", err)
	}
	return data, nil
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func reverseStrings(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}
