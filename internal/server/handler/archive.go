package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gavelhouse/gavel/internal/domain"
)

// maxReportBytes caps how much of a settlement report is read back from
// object storage. Reports are a few hundred bytes; anything near the cap
// means the object was overwritten by something else.
const maxReportBytes = 1 << 20

// presignExpiry bounds how long an archive download link stays usable.
const presignExpiry = 15 * time.Minute

// ArchiveHandler serves the cold-storage archive of settled auctions. The
// server mounts it only when blob storage is configured.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler reading from the given store.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		blobs:  blobs,
		logger: logger,
	}
}

// archiveFile summarizes one object in an auction's archive.
type archiveFile struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// archiveResponse carries the signed settlement report together with the keys
// of the raw ledger files written next to it.
type archiveResponse struct {
	AuctionID string          `json:"auction_id"`
	Report    json.RawMessage `json:"report"`
	Files     []archiveFile   `json:"files"`
}

// GetArchive returns the settlement report archived for a settled auction,
// plus a listing of the ledger files uploaded with it. Auctions that have not
// been settled and archived yet report 404.
// GET /api/auctions/{id}/archive
func (h *ArchiveHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}

	prefix := "auctions/" + id + "/"
	body, err := h.blobs.Get(r.Context(), prefix+"settlement.json")
	if err != nil {
		if status := errorStatus(err); status != 0 {
			writeError(w, status, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: read archive failed",
			slog.String("auction_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read archive")
		return
	}
	defer body.Close()

	raw, err := io.ReadAll(io.LimitReader(body, maxReportBytes))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: read archive body failed",
			slog.String("auction_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read archive")
		return
	}
	if !json.Valid(raw) {
		h.logger.ErrorContext(r.Context(), "handler: archived report is not valid JSON",
			slog.String("auction_id", id),
		)
		writeError(w, http.StatusInternalServerError, "archived report is corrupt")
		return
	}

	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archive failed",
			slog.String("auction_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archive")
		return
	}

	files := make([]archiveFile, 0, len(infos))
	for _, info := range infos {
		files = append(files, archiveFile{
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}

	writeJSON(w, http.StatusOK, archiveResponse{
		AuctionID: id,
		Report:    json.RawMessage(raw),
		Files:     files,
	})
}

// presignResponse carries one time-limited download link.
type presignResponse struct {
	Path      string    `json:"path"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PresignFile returns a time-limited download URL for one file inside a
// settled auction's archive, so large ledger files are fetched from the
// object store directly instead of streaming through this API.
// GET /api/auctions/{id}/archive/presign?file=bids.jsonl
func (h *ArchiveHandler) PresignFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}
	name := r.URL.Query().Get("file")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing file parameter")
		return
	}
	// The link must stay inside this auction's prefix.
	if strings.Contains(name, "..") || strings.HasPrefix(name, "/") {
		writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}

	path := "auctions/" + id + "/" + name
	url, err := h.blobs.Presign(r.Context(), path, presignExpiry)
	if err != nil {
		if status := errorStatus(err); status != 0 {
			writeError(w, status, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: presign archive file failed",
			slog.String("auction_id", id),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to presign archive file")
		return
	}

	writeJSON(w, http.StatusOK, presignResponse{
		Path:      path,
		URL:       url,
		ExpiresAt: time.Now().UTC().Add(presignExpiry),
	})
}
