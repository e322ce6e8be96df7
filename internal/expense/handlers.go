package expense

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/jspencer/billsplit/internal/extraction"
)

// maxUploadSize bounds receipt uploads; high-resolution phone photos can be
// large.
const maxUploadSize = int64(50 << 20) // 50MB

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes a JSON response with CORS headers set.
func writeJSON(w http.ResponseWriter, status int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// jsonError writes a JSON error payload. fallback marks the failure as worth
// retrying with another extraction provider.
func jsonError(w http.ResponseWriter, status int, message string, fallback bool) {
	payload := map[string]any{"error": message}
	if fallback {
		payload["fallback"] = true
	}
	writeJSON(w, status, payload)
}

// notFoundOr500 maps missing-expense errors to 404 and the rest to 500.
func notFoundOr500(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrExpenseNotFound) {
		corsError(w, "Expense not found", http.StatusNotFound)
		return
	}
	slog.Error("Internal error", "error", err)
	corsError(w, "Internal server error", http.StatusInternalServerError)
}

// readImageUpload pulls the uploaded image out of a multipart form: the
// bytes, the original filename and the MIME type (from the part header, or
// guessed from the extension).
func readImageUpload(r *http.Request) ([]byte, string, string, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return nil, "", "", err
	}

	f, header, err := r.FormFile("image")
	if err != nil {
		return nil, "", "", err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", "", err
	}

	return data, header.Filename, detectContentType(header), nil
}

// detectContentType determines the upload's MIME type, falling back to the
// file extension when the client didn't send one.
func detectContentType(header *multipart.FileHeader) string {
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		switch strings.ToLower(filepath.Ext(header.Filename)) {
		case ".jpg", ".jpeg":
			contentType = "image/jpeg"
		case ".png":
			contentType = "image/png"
		case ".pdf":
			contentType = "application/pdf"
		case ".heic":
			contentType = "image/heic"
		case ".heif":
			contentType = "image/heif"
		default:
			contentType = "application/octet-stream"
		}
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// writeExtractionError maps extraction failures onto the HTTP boundary:
// 503 when the service isn't configured, 429 when a quota ran out, 422 when
// nothing usable was recognized, 500 otherwise. Quota and unknown failures
// carry the fallback flag so a client layer knows trying elsewhere is
// worthwhile.
func writeExtractionError(w http.ResponseWriter, err error) {
	if errors.Is(err, extraction.ErrNoItems) {
		jsonError(w, http.StatusUnprocessableEntity, "No receipt data found in image", false)
		return
	}

	switch extraction.ClassifyKind(err) {
	case extraction.KindConfiguration:
		jsonError(w, http.StatusServiceUnavailable, err.Error(), false)
	case extraction.KindQuota:
		jsonError(w, http.StatusTooManyRequests, err.Error(), true)
	case extraction.KindNoData:
		jsonError(w, http.StatusUnprocessableEntity, err.Error(), false)
	default:
		jsonError(w, http.StatusInternalServerError, err.Error(), true)
	}
}

// handleExtractReceipt runs an uploaded image through the extraction
// pipeline and returns the structured receipt data, without touching any
// expense.
func (s *Server) handleExtractReceipt(w http.ResponseWriter, r *http.Request) {
	data, _, contentType, err := readImageUpload(r)
	if err != nil {
		slog.Error("Error reading image upload", "error", err)
		jsonError(w, http.StatusBadRequest, "No image provided", false)
		return
	}

	receipt, err := s.service.ExtractReceipt(r.Context(), data, contentType)
	if err != nil {
		slog.Error("Extraction failed", "error", err)
		writeExtractionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

// handleImportReceipt extracts an uploaded receipt and commits its items to
// the expense, unless the result needs review first.
func (s *Server) handleImportReceipt(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")

	data, filename, contentType, err := readImageUpload(r)
	if err != nil {
		slog.Error("Error reading image upload", "error", err)
		jsonError(w, http.StatusBadRequest, "No image provided", false)
		return
	}

	result, err := s.service.ImportReceipt(r.Context(), code, filename, data, contentType)
	if err != nil {
		if errors.Is(err, ErrExpenseNotFound) {
			corsError(w, "Expense not found", http.StatusNotFound)
			return
		}
		slog.Error("Error importing receipt", "expense", code, "filename", filename, "error", err)
		writeExtractionError(w, err)
		return
	}

	if result.NeedsReview {
		writeJSON(w, http.StatusOK, result)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// confirmImportRequest carries the reviewed (possibly corrected) items the
// user chose to keep.
type confirmImportRequest struct {
	Items []extraction.ReceiptItem `json:"items"`
}

// handleConfirmImport commits items from a reviewed extraction.
func (s *Server) handleConfirmImport(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")

	var req confirmImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	added, err := s.service.CommitItems(code, req.Items)
	if err != nil {
		if errors.Is(err, extraction.ErrNoItems) {
			corsError(w, "No items to commit", http.StatusBadRequest)
			return
		}
		notFoundOr500(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"added": added})
}

// handleGetReceiptImage serves the stored receipt image for an expense.
func (s *Server) handleGetReceiptImage(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")

	data, err := s.service.GetReceiptImage(code)
	if err != nil {
		if errors.Is(err, ErrExpenseNotFound) {
			corsError(w, "Expense not found", http.StatusNotFound)
			return
		}
		corsError(w, "No receipt image", http.StatusNotFound)
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Write(data)
}

// handleCreateExpense creates a new expense and returns its share code.
func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	expense, err := s.service.CreateExpense()
	if err != nil {
		slog.Error("Error creating expense", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, expense)
}

// handleGetExpense returns an expense by share code.
func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	expense, err := s.service.GetExpense(r.PathValue("code"))
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, expense)
}

type updateTitleRequest struct {
	Title *string `json:"title"`
}

func (s *Server) handleUpdateTitle(w http.ResponseWriter, r *http.Request) {
	var req updateTitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.service.UpdateExpenseTitle(r.PathValue("code"), req.Title); err != nil {
		notFoundOr500(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateTotalRequest struct {
	Total *float64 `json:"total"`
}

func (s *Server) handleUpdateTotal(w http.ResponseWriter, r *http.Request) {
	var req updateTotalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.service.UpdateExpenseTotal(r.PathValue("code"), req.Total); err != nil {
		notFoundOr500(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := s.service.Participants(r.PathValue("code"))
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, participants)
}

type participantRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	var req participantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	participant, err := s.service.AddParticipant(r.PathValue("code"), req.Name)
	if err != nil {
		if errors.Is(err, ErrExpenseNotFound) {
			corsError(w, "Expense not found", http.StatusNotFound)
			return
		}
		corsError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, participant)
}

func (s *Server) handleRenameParticipant(w http.ResponseWriter, r *http.Request) {
	var req participantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.service.RenameParticipant(r.PathValue("code"), r.PathValue("id"), req.Name); err != nil {
		if errors.Is(err, ErrExpenseNotFound) {
			corsError(w, "Expense not found", http.StatusNotFound)
			return
		}
		corsError(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteParticipant(w http.ResponseWriter, r *http.Request) {
	if err := s.service.RemoveParticipant(r.PathValue("code"), r.PathValue("id")); err != nil {
		notFoundOr500(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListLineItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.LineItems(r.PathValue("code"))
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

type lineItemRequest struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

func (s *Server) handleAddLineItem(w http.ResponseWriter, r *http.Request) {
	var req lineItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	item, err := s.service.AddLineItem(r.PathValue("code"), req.Name, req.Price)
	if err != nil {
		if errors.Is(err, ErrExpenseNotFound) {
			corsError(w, "Expense not found", http.StatusNotFound)
			return
		}
		corsError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleUpdateLineItem(w http.ResponseWriter, r *http.Request) {
	var req lineItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	item, err := s.service.UpdateLineItem(r.PathValue("code"), r.PathValue("id"), req.Name, req.Price)
	if err != nil {
		corsError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type assignRequest struct {
	AssignedTo []string `json:"assigned_to"`
}

func (s *Server) handleAssignLineItem(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	item, err := s.service.AssignLineItem(r.PathValue("code"), r.PathValue("id"), req.AssignedTo)
	if err != nil {
		if errors.Is(err, ErrExpenseNotFound) {
			corsError(w, "Expense not found", http.StatusNotFound)
			return
		}
		corsError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleDeleteLineItem(w http.ResponseWriter, r *http.Request) {
	if err := s.service.RemoveLineItems(r.PathValue("code"), []string{r.PathValue("id")}); err != nil {
		notFoundOr500(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleShares(w http.ResponseWriter, r *http.Request) {
	shares, err := s.service.Shares(r.PathValue("code"))
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shares)
}
