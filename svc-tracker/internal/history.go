package internal

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/etesami/moto-tracking-system/pkg/store"
)

const (
	defaultFramesLimit = 20
	maxFramesLimit     = 500
)

// History reads back the recorded tracker output
type History interface {
	ObjectHistory(ctx context.Context, runId, sourceId string, objectId int) ([]store.ObjectRecord, error)
	RecentFrames(ctx context.Context, sourceId string, limit int) ([]store.FrameSummary, error)
}

// HistoryAPI serves the recorded frames and identity tracks over HTTP
type HistoryAPI struct {
	history History
	runId   string
}

func NewHistoryAPI(h History, runId string) *HistoryAPI {
	return &HistoryAPI{history: h, runId: runId}
}

// RegisterRoutes registers the history routes on the provided mux
func (api *HistoryAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /frames", api.handleRecentFrames)
	mux.HandleFunc("GET /objects/{id}/history", api.handleObjectHistory)
}

// FrameResponse is a recorded frame in JSON responses
type FrameResponse struct {
	RunId        string  `json:"run_id"`
	SourceId     string  `json:"source_id"`
	FrameId      int64   `json:"frame_id"`
	Detections   int     `json:"detections"`
	Rejected     int     `json:"rejected"`
	Tracked      int     `json:"tracked"`
	Registered   int     `json:"registered"`
	Evicted      int     `json:"evicted"`
	ProcessingMs float64 `json:"processing_ms"`
}

// ObjectPointResponse is the state of an identity in one frame
type ObjectPointResponse struct {
	FrameId    int64   `json:"frame_id"`
	BBox       [4]int  `json:"bbox"`
	Centroid   [2]int  `json:"centroid"`
	Class      string  `json:"class,omitempty"`
	Confidence float64 `json:"confidence"`
	Zone       string  `json:"zone,omitempty"`
	Model      string  `json:"model,omitempty"`
}

// ObjectHistoryResponse is the track of one identity
type ObjectHistoryResponse struct {
	RunId    string                `json:"run_id"`
	SourceId string                `json:"source_id"`
	ObjectId int                   `json:"object_id"`
	History  []ObjectPointResponse `json:"history"`
}

// handleRecentFrames serves GET /frames?source=<id>&limit=<n>, newest first
func (api *HistoryAPI) handleRecentFrames(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		api.writeJSONError(w, http.StatusBadRequest, "missing source")
		return
	}
	limit := defaultFramesLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			api.writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxFramesLimit)
	}

	frames, err := api.history.RecentFrames(r.Context(), source, limit)
	if err != nil {
		log.Printf("Error reading frames of [%s]: %v", source, err)
		api.writeJSONError(w, http.StatusInternalServerError, "failed to read frames")
		return
	}

	out := make([]FrameResponse, 0, len(frames))
	for _, f := range frames {
		out = append(out, FrameResponse{
			RunId:        f.RunId,
			SourceId:     f.SourceId,
			FrameId:      f.FrameId,
			Detections:   f.Detections,
			Rejected:     f.Rejected,
			Tracked:      f.Tracked,
			Registered:   f.Registered,
			Evicted:      f.Evicted,
			ProcessingMs: f.ProcessingMs,
		})
	}
	api.writeJSON(w, out)
}

// handleObjectHistory serves GET /objects/{id}/history?source=<id>[&run=<run>].
// The run defaults to the current tracker run since identities restart with it.
func (api *HistoryAPI) handleObjectHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 0 {
		api.writeJSONError(w, http.StatusBadRequest, "invalid object id")
		return
	}
	source := r.URL.Query().Get("source")
	if source == "" {
		api.writeJSONError(w, http.StatusBadRequest, "missing source")
		return
	}
	run := r.URL.Query().Get("run")
	if run == "" {
		run = api.runId
	}

	records, err := api.history.ObjectHistory(r.Context(), run, source, id)
	if err != nil {
		log.Printf("Error reading history of object [%d] of [%s]: %v", id, source, err)
		api.writeJSONError(w, http.StatusInternalServerError, "failed to read object history")
		return
	}
	if len(records) == 0 {
		api.writeJSONError(w, http.StatusNotFound, "object not found")
		return
	}

	resp := ObjectHistoryResponse{
		RunId:    run,
		SourceId: source,
		ObjectId: id,
		History:  make([]ObjectPointResponse, 0, len(records)),
	}
	for _, o := range records {
		resp.History = append(resp.History, ObjectPointResponse{
			FrameId:    o.FrameId,
			BBox:       [4]int{o.Box.Min.X, o.Box.Min.Y, o.Box.Max.X, o.Box.Max.Y},
			Centroid:   [2]int{o.Centroid.X, o.Centroid.Y},
			Class:      o.Class,
			Confidence: o.Confidence,
			Zone:       o.Zone,
			Model:      o.Model,
		})
	}
	api.writeJSON(w, resp)
}

func (api *HistoryAPI) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

func (api *HistoryAPI) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
