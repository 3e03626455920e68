package status

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"media-status/internal/platform/logger"
)

var errTransferTerminated = errors.New("transfer terminated")

// countingWriter feeds bytes written to the client into a TransferStatus and
// stops the response once the transfer is terminated.
type countingWriter struct {
	http.ResponseWriter
	status *TransferStatus
	n      int64
}

func (w *countingWriter) Write(b []byte) (int, error) {
	if w.status.IsTerminated() {
		return 0, errTransferTerminated
	}
	n, err := w.ResponseWriter.Write(b)
	w.n += int64(n)
	w.status.AddBytesTransferred(int64(n))
	return n, err
}

// countingReader is countingWriter for request bodies.
type countingReader struct {
	r      io.Reader
	status *TransferStatus
	n      int64
}

func (c *countingReader) Read(b []byte) (int, error) {
	if c.status.IsTerminated() {
		return 0, errTransferTerminated
	}
	n, err := c.r.Read(b)
	c.n += int64(n)
	c.status.AddBytesTransferred(int64(n))
	return n, err
}

// Stream handles GET /stream?player=...&path=...
// The media file is served as-is with range support; the player's stream
// status is kept as inactive when the response ends.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	h.serveTransfer(w, r, KindStream)
}

// Download handles GET /download?player=...&path=...
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	h.serveTransfer(w, r, KindDownload)
}

func (h *Handler) serveTransfer(w http.ResponseWriter, r *http.Request, kind Kind) {
	q := r.URL.Query()
	player, err := h.svc.Player(q.Get("player"), Player{IPAddress: logger.ClientIP(r)})
	if err != nil {
		h.writeError(w, err)
		return
	}
	mf, err := h.svc.ResolveMediaFile(q.Get("path"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	f, err := os.Open(mf.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.writeError(w, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		h.writeError(w, err)
		return
	}

	st, err := h.svc.StartTransfer(kind, player, mf.Path)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.transferStarted(st)
	cw := &countingWriter{ResponseWriter: w, status: st}
	defer func() { h.transferEnded(st, cw.n) }()

	st.SetBytesTotal(info.Size())
	if offset, ok := rangeStart(r.Header.Get("Range")); ok {
		st.AddBytesSkipped(offset)
	}
	if kind == KindDownload {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
			"filename": filepath.Base(mf.Path),
		}))
	}

	http.ServeContent(cw, r, info.Name(), info.ModTime(), f)
}

type uploadResponse struct {
	Files []string `json:"files"`
}

// Upload handles POST /upload?player=... with a multipart body. Every file
// part is written to the upload directory under its base name.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	player, err := h.svc.Player(r.URL.Query().Get("player"), Player{IPAddress: logger.ClientIP(r)})
	if err != nil {
		h.writeError(w, err)
		return
	}
	mr, err := r.MultipartReader()
	if err != nil {
		h.log.Debug("invalid upload body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := os.MkdirAll(h.cfg.UploadDir, 0o755); err != nil {
		h.writeError(w, err)
		return
	}

	st, err := h.svc.StartTransfer(KindUpload, player, "")
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.transferStarted(st)
	body := &countingReader{status: st}
	defer func() { h.transferEnded(st, body.n) }()
	if r.ContentLength > 0 {
		st.SetBytesTotal(r.ContentLength)
	}

	saved := []string{}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			h.log.Debug("read upload part failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		name := filepath.Base(part.FileName())
		if part.FileName() == "" || name == "." || name == string(filepath.Separator) {
			part.Close()
			continue
		}
		dest := filepath.Join(h.cfg.UploadDir, name)
		st.SetFile(dest)

		body.r = part
		if err := writeFile(dest, body); err != nil {
			part.Close()
			if errors.Is(err, errTransferTerminated) {
				w.WriteHeader(http.StatusConflict)
				return
			}
			h.writeError(w, err)
			return
		}
		part.Close()
		saved = append(saved, dest)
		h.log.Info("file uploaded",
			slog.String("player_id", player.ID),
			slog.String("path", dest))
	}

	writeJSON(w, http.StatusCreated, uploadResponse{Files: saved})
}

func writeFile(dest string, r io.Reader) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		_ = os.Remove(dest)
		return err
	}
	return out.Close()
}

func (h *Handler) transferStarted(st *TransferStatus) {
	h.log.Info("transfer started",
		slog.String("transfer_id", st.ID()),
		slog.String("kind", string(st.Kind())),
		slog.String("player_id", st.Player().ID),
		slog.String("path", st.File()))
	if h.metrics != nil {
		h.metrics.IncTransfersStarted(string(st.Kind()))
	}
}

func (h *Handler) transferEnded(st *TransferStatus, n int64) {
	h.svc.EndTransfer(st)
	h.log.Info("transfer ended",
		slog.String("transfer_id", st.ID()),
		slog.String("kind", string(st.Kind())),
		slog.String("player_id", st.Player().ID),
		slog.Int64("bytes", n),
		slog.Bool("terminated", st.IsTerminated()))
	if h.metrics != nil {
		h.metrics.IncTransfersEnded(string(st.Kind()))
		h.metrics.AddBytesTransferred(string(st.Kind()), n)
	}
}

// rangeStart returns the first offset of a single "bytes=N-..." range.
func rangeStart(header string) (int64, bool) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return 0, false
	}
	start, _, ok := strings.Cut(spec, "-")
	if !ok || start == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(start), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
