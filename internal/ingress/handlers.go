package ingress

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ttbverify/labelverify/internal/blobstore"
	"github.com/ttbverify/labelverify/internal/cryptobox"
	"github.com/ttbverify/labelverify/internal/jobstore"
	"github.com/ttbverify/labelverify/internal/queue"
	"github.com/ttbverify/labelverify/pkg/models"
)

const (
	minImageSize = 1 << 10  // 1 KiB
	maxImageSize = 10 << 20 // 10 MiB
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

var validate = validator.New()

// submitRequest is the decoded shape of the optional expected-value
// multipart parts, validated before anything is written to storage.
type submitRequest struct {
	Brand       string   `validate:"omitempty,max=256"`
	ClassType   string   `validate:"omitempty,max=256"`
	ExpectedABV *float64 `validate:"omitempty,gte=0,lte=100"`
}

// Handlers holds the dependencies C11 needs: encrypt, store, persist,
// enqueue.
type Handlers struct {
	Box   *cryptobox.Box
	Blobs blobstore.Store
	Jobs  jobstore.Store
	Queue queue.Queue
}

// NewHandlers builds the ingress Handlers.
func NewHandlers(box *cryptobox.Box, blobs blobstore.Store, jobs jobstore.Store, q queue.Queue) *Handlers {
	return &Handlers{Box: box, Blobs: blobs, Jobs: jobs, Queue: q}
}

type submitResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Submit implements spec §4.1 steps 1-7: validate, derive a blob key,
// encrypt, store, create the job Pending, enqueue.
func (h *Handlers) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseMultipartForm(maxImageSize + (1 << 20)); err != nil {
		writeError(w, http.StatusBadRequest, "malformed multipart body")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing required \"image\" part")
		return
	}
	defer file.Close()

	imageBytes, err := io.ReadAll(io.LimitReader(file, maxImageSize+1))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read image")
		return
	}
	if len(imageBytes) < minImageSize || len(imageBytes) > maxImageSize {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("image size must be between %d and %d bytes", minImageSize, maxImageSize))
		return
	}

	declaredType := header.Header.Get("Content-Type")
	sniffedType := http.DetectContentType(imageBytes)
	if !allowedImageTypes[sniffedType] {
		writeError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("unsupported image type %q", sniffedType))
		return
	}
	if declaredType != "" && !sameImageFamily(declaredType, sniffedType) {
		writeError(w, http.StatusBadRequest, "declared content type does not match image bytes")
		return
	}

	expected, err := parseExpectedFields(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	blobKey, err := randomBlobKey()
	if err != nil {
		log.Error().Err(err).Msg("failed to derive blob key")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	ciphertext, err := h.Box.Encrypt(imageBytes)
	if err != nil {
		log.Error().Err(err).Msg("encryption failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := h.Blobs.Put(ctx, blobKey, ciphertext); err != nil {
		log.Error().Err(err).Msg("blob store put failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	job := &models.Job{
		ID:       uuid.NewString(),
		State:    models.JobPending,
		BlobKey:  blobKey,
		Expected: expected,
	}
	if err := h.Jobs.Create(ctx, job); err != nil {
		log.Error().Err(err).Msg("job creation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := h.Queue.Enqueue(ctx, job.ID); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("enqueue failed; marking job failed")
		msg := "enqueue failed"
		if casErr := h.Jobs.TransitionState(ctx, job.ID, models.JobPending, models.JobFailed, func(j *models.Job) {
			j.Error = &msg
		}); casErr != nil {
			log.Error().Err(casErr).Str("job_id", job.ID).Msg("failed to mark job failed after enqueue failure")
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(submitResponse{JobID: job.ID, Status: string(models.JobPending)})
}

type statusResponse struct {
	JobID  string                     `json:"job_id"`
	State  models.JobState            `json:"state"`
	Result *models.VerificationResult `json:"result,omitempty"`
	Error  *string                    `json:"error,omitempty"`
}

// Status implements the get-status operation: {state, result?, error?}.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := h.Jobs.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		log.Error().Err(err).Str("job_id", jobID).Msg("job lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusResponse{
		JobID:  job.ID,
		State:  job.State,
		Result: job.Result,
		Error:  job.Error,
	})
}

func parseExpectedFields(r *http.Request) (*models.ExpectedFields, error) {
	req := submitRequest{
		Brand:     r.FormValue("brand_name"),
		ClassType: r.FormValue("class_type"),
	}
	if raw := r.FormValue("expected_abv"); raw != "" {
		abv, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("expected_abv must be numeric")
		}
		req.ExpectedABV = &abv
	}

	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid expected fields: %w", err)
	}

	if req.Brand == "" && req.ClassType == "" && req.ExpectedABV == nil {
		return nil, nil
	}

	expected := &models.ExpectedFields{ABV: req.ExpectedABV}
	if req.Brand != "" {
		expected.Brand = &req.Brand
	}
	if req.ClassType != "" {
		expected.Class = &req.ClassType
	}
	return expected, nil
}

// sameImageFamily tolerates minor declared/sniffed mismatches within
// the same format (e.g. browsers sometimes declare "image/jpg").
func sameImageFamily(declared, sniffed string) bool {
	if declared == sniffed {
		return true
	}
	if declared == "image/jpg" && sniffed == "image/jpeg" {
		return true
	}
	return false
}

func randomBlobKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate blob key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: message})
}
