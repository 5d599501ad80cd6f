package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/lehigh-university-libraries/instructgen/internal/media"
	"github.com/lehigh-university-libraries/instructgen/internal/models"
)

// multipartOverhead is allowed on top of the image size for form fields
const multipartOverhead = 1 << 20

func (h *Handler) HandleSetOriginal(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}

	img, err := h.readUpload(w, r, models.OriginalImageID)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	sess.SetOriginal(img)
	slog.Info("Original image set", "session_id", sess.ID(), "filename", img.Filename, "bytes", img.Size)
	h.writeJSON(w, http.StatusOK, h.snapshot(sess))
}

func (h *Handler) HandleRemoveOriginal(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}
	sess.RemoveOriginal()
	h.writeJSON(w, http.StatusOK, h.snapshot(sess))
}

func (h *Handler) HandleAddEdition(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}

	img, err := h.readUpload(w, r, "")
	if err != nil {
		h.writeErr(w, err)
		return
	}

	editionID, err := sess.AddEdition(img)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	slog.Info("Edition added", "session_id", sess.ID(), "edition_id", editionID, "filename", img.Filename)
	w.Header().Set("Location", previewURL(sess.ID(), editionID))
	h.writeJSON(w, http.StatusCreated, h.snapshot(sess))
}

func (h *Handler) HandleRemoveEdition(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}
	if err := sess.RemoveEdition(mux.Vars(r)["editionId"]); err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.snapshot(sess))
}

// HandleImage serves the stored bytes of the original or an edition
func (h *Handler) HandleImage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}
	img, found := sess.Image(mux.Vars(r)["imageId"])
	if !found {
		h.writeError(w, "Image not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", img.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	if _, err := w.Write(img.Data); err != nil {
		slog.Error("Unable to write image", "err", err)
	}
}

// readUpload accepts either a JSON body naming an image_url or a multipart
// form with the image in the "file" field.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request, id string) (models.UploadedImage, error) {
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var request struct {
			ImageURL string `json:"image_url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			return models.UploadedImage{}, fmt.Errorf("%w: invalid JSON: %v", errInvalidRequest, err)
		}
		if request.ImageURL == "" {
			return models.UploadedImage{}, fmt.Errorf("%w: image_url is required", errInvalidRequest)
		}
		img, err := h.fetcher.Fetch(r.Context(), request.ImageURL, id)
		if err != nil {
			return models.UploadedImage{}, fmt.Errorf("%w: failed to process image URL: %w", errInvalidRequest, err)
		}
		return img, nil
	}

	limit := h.maxUploadBytes + multipartOverhead
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || (h.maxUploadBytes > 0 && r.ContentLength > limit) {
			return models.UploadedImage{}, fmt.Errorf("%w (max %d bytes)", media.ErrTooLarge, h.maxUploadBytes)
		}
		return models.UploadedImage{}, fmt.Errorf("%w: failed to read file: %v", errInvalidRequest, err)
	}
	defer file.Close()

	return media.ReadImage(file, id, header.Filename, header.Header.Get("Content-Type"), h.maxUploadBytes)
}
