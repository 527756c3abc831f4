package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"

	"github.com/rajeevc5260/Code-Review-Helper/internal/storage"
)

// handleDownload redeems a signed link produced by the getDownloadURL
// tool. GET /v1/files/download?id=...&exp=...&sig=...
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if s.files == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "file storage not configured")
		return
	}
	q := r.URL.Query()
	id := q.Get("id")
	exp, err := strconv.ParseInt(q.Get("exp"), 10, 64)
	if id == "" || err != nil || q.Get("sig") == "" {
		s.errorResponse(w, http.StatusBadRequest, "id, exp and sig are required")
		return
	}

	if err := s.files.VerifyLink(id, exp, q.Get("sig")); err != nil {
		switch {
		case errors.Is(err, storage.ErrLinkExpired):
			s.errorResponse(w, http.StatusGone, "download link expired")
		default:
			s.errorResponse(w, http.StatusForbidden, "download link signature invalid")
		}
		return
	}

	rc, obj, err := s.files.Open(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			s.errorResponse(w, http.StatusNotFound, "file not found")
		case errors.Is(err, storage.ErrBadID):
			s.errorResponse(w, http.StatusBadRequest, "malformed file id")
		default:
			s.logger.Error("open failed", "file_id", id, "error", err)
			s.errorResponse(w, http.StatusInternalServerError, "could not open file")
		}
		return
	}
	defer rc.Close()

	ctype := mime.TypeByExtension(path.Ext(obj.Name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": obj.Name}))
	w.Header().Set("Cache-Control", "private, no-store")
	if obj.Size >= 0 {
		w.Header().Set("Content-Length", fmt.Sprint(obj.Size))
	}

	n, err := io.Copy(w, rc)
	if err != nil {
		s.logger.Debug("download interrupted", "file_id", id, "bytes", n, "error", err)
		return
	}
	s.logger.Debug("file downloaded", "path", obj.Path, "bytes", n)
}
