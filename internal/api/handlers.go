package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/councilhub/internal/apperr"
	"github.com/starford/councilhub/internal/auth"
	"github.com/starford/councilhub/internal/checksum"
	"github.com/starford/councilhub/internal/content"
	"github.com/starford/councilhub/internal/doctree"
	"github.com/starford/councilhub/internal/listing"
	"github.com/starford/councilhub/internal/models"
	"github.com/starford/councilhub/internal/treeview"
	"github.com/starford/councilhub/internal/visibility"
)

// multipart parts above this size spill to temp files
const formMemory = 32 << 20

// Handler holds content route handlers.
type Handler struct {
	content   *content.Service
	listing   *listing.Index
	view      *treeview.Serializer
	policy    visibility.Policy
	maxUpload int64
}

// NewHandler creates a new Handler.
func NewHandler(svc *content.Service, lst *listing.Index, view *treeview.Serializer, policy visibility.Policy, maxUpload int64) *Handler {
	return &Handler{content: svc, listing: lst, view: view, policy: policy, maxUpload: maxUpload}
}

func (h *Handler) scope(r *http.Request) visibility.Scope {
	return visibility.ScopeFor(h.policy, auth.CallerFrom(r.Context()))
}

func sectionKind(r *http.Request) (models.MeetingKind, bool) {
	return content.KindOf(chi.URLParam(r, "section"))
}

func pathID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Validationf("invalid id %q", chi.URLParam(r, "id"))
	}
	return uint(id), nil
}

// ifMatch reads a version from If-Match, accepting "3", "\"3\"" and W/"3".
func ifMatch(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	if raw == "" || raw == "*" {
		return 0, nil
	}
	raw = strings.Trim(strings.TrimPrefix(raw, "W/"), `"`)
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperr.Validationf("If-Match must be a version number")
	}
	return v, nil
}

// writeTree writes v with a content ETag and answers If-None-Match with 304.
func writeTree(w http.ResponseWriter, r *http.Request, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		writeError(w, r, "encode tree", err)
		return
	}
	etag := checksum.ETag(body)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if checksum.Matches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// parseForm parses a multipart or urlencoded body within the upload limit.
func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}
	err := r.ParseMultipartForm(formMemory)
	if err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.Validationf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, apperr.Validationf("malformed form: %v", err)
	}
	return r.PostForm, nil
}

// meetingParts splits the file parts of a meeting upload by field prefix.
func meetingParts(r *http.Request) (files []content.Upload, transcript, video *content.Upload) {
	if r.MultipartForm == nil {
		return nil, nil, nil
	}
	keys := make([]string, 0, len(r.MultipartForm.File))
	for k := range r.MultipartForm.File {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, fh := range r.MultipartForm.File[k] {
			up := content.FromFileHeader(fh)
			switch {
			case strings.HasPrefix(k, "newfile-"):
				files = append(files, up)
			case strings.HasPrefix(k, "MeetingTranscript") && transcript == nil:
				transcript = &up
			case strings.HasPrefix(k, "videoFile") && video == nil:
				video = &up
			}
		}
	}
	return files, transcript, video
}

// ListMeetings handles GET /{section}/data.
//
//	@Summary		List notifications or records
//	@Tags			meetings
//	@Produce		json
//	@Param			section	path		string	true	"notifi or minutes"	Enums(notifi, minutes)
//	@Success		200		{object}	MeetingListing
//	@Router			/{section}/data [get]
func (h *Handler) ListMeetings(w http.ResponseWriter, r *http.Request) {
	kind, ok := sectionKind(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	scope := h.scope(r)
	lst, err := h.listing.Meetings(r.Context(), kind, scope.OnlyVisible)
	if err != nil {
		writeError(w, r, "list meetings", err)
		return
	}
	lst.Editable = scope.Editable
	writeJSON(w, http.StatusOK, lst)
}

// GetMeeting handles GET /{section}/data/{id}.
//
//	@Summary		Get the full tree of a meeting
//	@Tags			meetings
//	@Produce		json
//	@Param			section			path		string	true	"notifi or minutes"
//	@Param			id				path		int		true	"Meeting id"
//	@Param			If-None-Match	header		string	false	"ETag of a cached copy"
//	@Success		200				{object}	MeetingTree
//	@Success		304				"Not modified"
//	@Failure		404				{object}	errResponse
//	@Router			/{section}/data/{id} [get]
func (h *Handler) GetMeeting(w http.ResponseWriter, r *http.Request) {
	kind, ok := sectionKind(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, "get meeting", err)
		return
	}
	tree, err := h.view.Meeting(r.Context(), doctree.ParentRef{Kind: kind, ID: id})
	if err != nil {
		writeError(w, r, "get meeting", err)
		return
	}
	writeTree(w, r, tree)
}

// UploadMeeting handles POST /{section}/upload.
//
//	@Summary		Create or edit a meeting with its agenda and files
//	@Tags			meetings
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			section		path		string	true	"notifi or minutes"
//	@Param			id			formData	string	true	"Meeting id, -1 to create"
//	@Param			content		formData	string	false	"Agenda JSON"
//	@Param			If-Match	header		string	false	"Expected version"
//	@Success		200			{object}	MeetingResult
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Failure		502			{object}	errResponse
//	@Router			/{section}/upload [post]
func (h *Handler) UploadMeeting(w http.ResponseWriter, r *http.Request) {
	kind, ok := sectionKind(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	values, err := h.parseForm(w, r)
	if err != nil {
		writeError(w, r, "upload meeting", err)
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	version, err := ifMatch(r)
	if err != nil {
		writeError(w, r, "upload meeting", err)
		return
	}

	files, transcript, video := meetingParts(r)
	res, err := h.content.SaveMeeting(r.Context(), content.MeetingInput{
		Kind:       kind,
		Values:     values,
		Files:      files,
		Transcript: transcript,
		Video:      video,
		IfMatch:    version,
		Caller:     auth.CallerFrom(r.Context()),
	})
	if err != nil {
		writeError(w, r, "upload meeting", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeleteMeeting handles POST /{section}/delete.
//
//	@Summary		Delete a meeting and its agenda
//	@Tags			meetings
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			section			path		string	true	"notifi or minutes"
//	@Param			id				formData	int		true	"Meeting id"
//	@Param			deleted_files	formData	string	false	"JSON list of files to collect"
//	@Success		200				{object}	MeetingListing
//	@Failure		400				{object}	errResponse
//	@Failure		404				{object}	errResponse
//	@Router			/{section}/delete [post]
func (h *Handler) DeleteMeeting(w http.ResponseWriter, r *http.Request) {
	kind, ok := sectionKind(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	values, err := h.parseForm(w, r)
	if err != nil {
		writeError(w, r, "delete meeting", err)
		return
	}
	lst, err := h.content.DeleteMeeting(r.Context(), kind, values)
	if err != nil {
		writeError(w, r, "delete meeting", err)
		return
	}
	writeJSON(w, http.StatusOK, lst)
}

// ListRegulations handles GET /regulations/data.
//
//	@Summary		List regulations by category
//	@Tags			regulations
//	@Produce		json
//	@Success		200	{object}	RegulationListing
//	@Router			/regulations/data [get]
func (h *Handler) ListRegulations(w http.ResponseWriter, r *http.Request) {
	scope := h.scope(r)
	lst, err := h.listing.Regulations(r.Context(), scope.OnlyVisible)
	if err != nil {
		writeError(w, r, "list regulations", err)
		return
	}
	lst.Editable = scope.Editable
	writeJSON(w, http.StatusOK, lst)
}

// GetRegulation handles GET /regulations/data/{id}.
//
//	@Summary		Get the full tree of a regulation
//	@Tags			regulations
//	@Produce		json
//	@Param			id				path		int		true	"Regulation id"
//	@Param			If-None-Match	header		string	false	"ETag of a cached copy"
//	@Success		200				{object}	RegulationTree
//	@Success		304				"Not modified"
//	@Failure		404				{object}	errResponse
//	@Router			/regulations/data/{id} [get]
func (h *Handler) GetRegulation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, "get regulation", err)
		return
	}
	tree, err := h.view.Regulation(r.Context(), id)
	if err != nil {
		writeError(w, r, "get regulation", err)
		return
	}
	writeTree(w, r, tree)
}

// UploadRegulation handles POST /regulations/upload.
//
//	@Summary		Create or edit a regulation with its chapters and revisions
//	@Tags			regulations
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			id			formData	string	true	"Regulation id, -1 to create"
//	@Param			content		formData	string	false	"Chapter tree JSON"
//	@Param			revision	formData	string	false	"Revision list JSON"
//	@Param			If-Match	header		string	false	"Expected version"
//	@Success		200			{object}	RegulationResult
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Router			/regulations/upload [post]
func (h *Handler) UploadRegulation(w http.ResponseWriter, r *http.Request) {
	values, err := h.parseForm(w, r)
	if err != nil {
		writeError(w, r, "upload regulation", err)
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	version, err := ifMatch(r)
	if err != nil {
		writeError(w, r, "upload regulation", err)
		return
	}
	res, err := h.content.SaveRegulation(r.Context(), content.RegulationInput{
		Values:  values,
		IfMatch: version,
		Caller:  auth.CallerFrom(r.Context()),
	})
	if err != nil {
		writeError(w, r, "upload regulation", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeleteRegulation handles POST /regulations/delete.
//
//	@Summary		Delete a regulation
//	@Tags			regulations
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			id	formData	int	true	"Regulation id"
//	@Success		200	{object}	RegulationListing
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Router			/regulations/delete [post]
func (h *Handler) DeleteRegulation(w http.ResponseWriter, r *http.Request) {
	values, err := h.parseForm(w, r)
	if err != nil {
		writeError(w, r, "delete regulation", err)
		return
	}
	lst, err := h.content.DeleteRegulation(r.Context(), values)
	if err != nil {
		writeError(w, r, "delete regulation", err)
		return
	}
	writeJSON(w, http.StatusOK, lst)
}
