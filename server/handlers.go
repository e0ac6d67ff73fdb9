package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/xhad/brandvoice/pkg/pipeline"
)

type generateContentForm struct {
	IndexName string `form:"index_name" validate:"required"`
	URL       string `form:"url"`
}

type queryRequest struct {
	Question  string `json:"question" validate:"required"`
	IndexName string `json:"index_name" validate:"required"`
}

type queryResponse struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type embedRequest struct {
	URL       string `json:"url" validate:"required"`
	IndexName string `json:"index_name" validate:"required"`
}

type embedResponse struct {
	Message      string `json:"message"`
	ChunksStored int    `json:"chunks_stored"`
	ChunksFailed int    `json:"chunks_failed"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type indexesResponse struct {
	Indexes []string `json:"indexes"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGenerateContent ingests a URL or an uploaded PDF into an index and
// answers the brand voice question against it.
func (s *Server) handleGenerateContent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.config.MaxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		s.writeError(w, r, &pipeline.Error{
			Kind:    pipeline.KindValidation,
			Message: fmt.Sprintf("invalid form: %v", err),
			Err:     err,
		})
		return
	}

	form := generateContentForm{
		IndexName: r.FormValue("index_name"),
		URL:       r.FormValue("url"),
	}
	if err := s.validateRequest(form); err != nil {
		s.writeError(w, r, err)
		return
	}

	req := pipeline.BrandVoiceRequest{IndexName: form.IndexName, URL: form.URL}
	if form.URL == "" {
		upload, err := readUpload(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		req.Upload = upload
	}

	result, err := s.service.GenerateBrandVoice(r.Context(), req, func(done, total int) {
		s.logger.Debug("ingest progress",
			zap.String("index", form.IndexName),
			zap.Int("done", done),
			zap.Int("total", total))
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if result.Ingest.Failed > 0 {
		s.logger.Warn("brand voice generated from a partial index",
			zap.String("index", form.IndexName),
			zap.Int("chunks_failed", result.Ingest.Failed),
			zap.Strings("failed_ids", result.Ingest.FailedIDs))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"Brand Voice":   result.Answer,
		"chunks_stored": result.Ingest.Stored,
		"chunks_failed": result.Ingest.Failed,
	})
}

// readUpload returns the "file" part of the form, or nil when there is none.
func readUpload(r *http.Request) (*pipeline.Upload, error) {
	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, &pipeline.Error{Kind: pipeline.KindValidation, Message: fmt.Sprintf("invalid file: %v", err), Err: err}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, &pipeline.Error{Kind: pipeline.KindValidation, Message: fmt.Sprintf("failed to read file: %v", err), Err: err}
	}

	return &pipeline.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.validateRequest(req); err != nil {
		s.writeError(w, r, err)
		return
	}

	answer, err := s.service.Query(r.Context(), req.IndexName, req.Question)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{Question: req.Question, Answer: answer.Answer})
}

func (s *Server) handleEmbedAndStore(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.validateRequest(req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.service.IngestURL(r.Context(), req.IndexName, req.URL, nil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, embedResponse{
		Message:      "Chunks embedded and stored successfully",
		ChunksStored: result.Stored,
		ChunksFailed: result.Failed,
	})
}

func (s *Server) handleDeleteIndex(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("index_name")
	if name == "" {
		s.writeError(w, r, &pipeline.Error{Kind: pipeline.KindValidation, Message: "index_name is required"})
		return
	}

	if _, err := s.service.DeleteIndex(r.Context(), name); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("Index %s deleted successfully", name)})
}

func (s *Server) handleListIndexes(w http.ResponseWriter, r *http.Request) {
	names, err := s.service.ListIndexes(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}

	writeJSON(w, http.StatusOK, indexesResponse{Indexes: names})
}
