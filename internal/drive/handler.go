package drive

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// Handler exposes the Drive feed over HTTP
type Handler struct {
	service  *Service
	ingest   *IngestService
	folderID string
}

func NewHandler(service *Service, ingest *IngestService, folderID string) *Handler {
	return &Handler{
		service:  service,
		ingest:   ingest,
		folderID: folderID,
	}
}

// Router returns the feed routes mounted under prefix.
func (h *Handler) Router(prefix string) http.Handler {
	router := mux.NewRouter().PathPrefix(prefix).Subrouter()
	h.RegisterRoutes(router)
	return router
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/files", h.ListFiles).Methods(http.MethodGet)
	router.HandleFunc("/sync", h.Sync).Methods(http.MethodPost)
}

func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	folderID := r.URL.Query().Get("folderId")
	if folderID == "" {
		folderID = h.folderID
	}

	if folderPath := r.URL.Query().Get("path"); folderPath != "" && h.service != nil {
		id, err := h.service.FindFolderByPath(r.Context(), folderPath)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		folderID = id
	}

	files, err := h.ingest.source.ListFiles(r.Context(), folderID)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	if files == nil {
		files = []*File{}
	}

	writeJSON(w, http.StatusOK, files)
}

func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	report, err := h.ingest.SyncFolder(r.Context(), h.folderID)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
