// Package admin serves the HTTP API behind the kiosk's hidden admin screen.
// There is no authentication: the screen is only reachable through the
// on-device gesture.
package admin

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/lannapoly/tiewson-kiosk/internal/content"
	"github.com/lannapoly/tiewson-kiosk/internal/locale"
	"github.com/lannapoly/tiewson-kiosk/internal/media"
)

// MaxUploadBytes bounds a multipart upload (file plus fields).
const MaxUploadBytes = 200 << 20

// Handler exposes content CRUD.
type Handler struct {
	svc *content.Service
}

// NewHandler creates a Handler backed by svc.
func NewHandler(svc *content.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the admin API on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/admin/content", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Post("/upload", h.Upload)
		r.Delete("/{id}", h.Delete)
	})
}

// listResponse is the body of every admin response. Items is always the
// freshest list the server could obtain.
type listResponse struct {
	ID             string         `json:"id,omitempty"`
	Items          []content.Item `json:"items"`
	Stale          bool           `json:"stale"`
	Error          string         `json:"error,omitempty"`
	Problems       []string       `json:"problems,omitempty"`
	UploadsEnabled bool           `json:"uploadsEnabled"`
}

// List re-reads the collection.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Refresh(r.Context())
	h.respond(w, "", items, err)
}

// Create inserts a JSON draft.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var d content.Draft
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&d); err != nil {
		respondJSON(w, http.StatusBadRequest, listResponse{
			Items:          nonNil(h.svc.Items()),
			Error:          "invalid JSON body",
			UploadsEnabled: h.svc.UploadsEnabled(),
		})
		return
	}
	id, items, err := h.svc.Create(r.Context(), d)
	h.respond(w, id, items, err)
}

// Upload inserts a draft sent as a multipart form, optionally with the
// media file itself in the "file" field.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondJSON(w, http.StatusBadRequest, listResponse{
			Items:          nonNil(h.svc.Items()),
			Error:          "invalid multipart form",
			UploadsEnabled: h.svc.UploadsEnabled(),
		})
		return
	}
	defer r.MultipartForm.RemoveAll()

	d, problems := draftFromForm(r)
	if len(problems) > 0 {
		h.respond(w, "", h.svc.Items(), &content.ValidationError{Problems: problems})
		return
	}

	var upload *content.Upload
	if f, hdr, err := r.FormFile("file"); err == nil {
		data, readErr := io.ReadAll(f)
		f.Close()
		if readErr != nil {
			log.Warn().Err(readErr).Str("filename", hdr.Filename).Msg("Failed to read uploaded file")
			h.respond(w, "", h.svc.Items(), &content.ValidationError{Problems: []string{"file could not be read"}})
			return
		}
		upload = &content.Upload{
			Filename:    hdr.Filename,
			ContentType: hdr.Header.Get("Content-Type"),
			Data:        data,
		}
	} else if !errors.Is(err, http.ErrMissingFile) {
		h.respond(w, "", h.svc.Items(), &content.ValidationError{Problems: []string{"file field is malformed"}})
		return
	}

	id, items, err := h.svc.CreateWithUpload(r.Context(), d, upload)
	h.respond(w, id, items, err)
}

// Delete removes one item.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Delete(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, "", items, err)
}

func (h *Handler) respond(w http.ResponseWriter, id string, items []content.Item, err error) {
	resp := listResponse{ID: id, Items: nonNil(items), UploadsEnabled: h.svc.UploadsEnabled()}
	status := http.StatusOK
	if id != "" {
		status = http.StatusCreated
	}

	var ve *content.ValidationError
	switch {
	case err == nil:
	case errors.As(err, &ve):
		status = http.StatusBadRequest
		resp.Error = "validation failed"
		resp.Problems = ve.Problems
	case errors.Is(err, content.ErrUnavailable):
		status = http.StatusServiceUnavailable
		resp.Stale = true
		resp.Error = "content repository unavailable"
	default:
		status = http.StatusInternalServerError
		resp.Stale = true
		resp.Error = err.Error()
	}
	if err != nil && status != http.StatusBadRequest {
		log.Error().Err(err).Int("status", status).Msg("Admin request failed")
	}
	respondJSON(w, status, resp)
}

// --- Form decoding ---

var formLocales = []struct {
	suffix string
	locale locale.Locale
}{
	{"Th", locale.Thai},
	{"En", locale.English},
	{"Zh", locale.Chinese},
	{"Ko", locale.Korean},
}

// draftFromForm reads the admin form fields (titleTh, descriptionEn, ...).
// Blank age fields mean "no bound".
func draftFromForm(r *http.Request) (content.Draft, []string) {
	d := content.Draft{
		Title:        locale.Text{},
		Description:  locale.Text{},
		MediaType:    media.Kind(strings.TrimSpace(r.FormValue("mediaType"))),
		MediaURL:     strings.TrimSpace(r.FormValue("mediaUrl")),
		TargetGender: content.TargetGender(strings.TrimSpace(r.FormValue("targetGender"))),
	}
	for _, fl := range formLocales {
		if v := r.FormValue("title" + fl.suffix); v != "" {
			d.Title[fl.locale] = v
		}
		if v := r.FormValue("description" + fl.suffix); v != "" {
			d.Description[fl.locale] = v
		}
	}

	var problems []string
	for _, f := range []struct {
		name string
		dst  **int
	}{{"targetAgeMin", &d.TargetAgeMin}, {"targetAgeMax", &d.TargetAgeMax}} {
		raw := strings.TrimSpace(r.FormValue(f.name))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			problems = append(problems, f.name+" must be a whole number")
			continue
		}
		*f.dst = content.IntPtr(n)
	}
	return d, problems
}

// --- Helpers ---

func nonNil(items []content.Item) []content.Item {
	if items == nil {
		return []content.Item{}
	}
	return items
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}
