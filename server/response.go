package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xhad/brandvoice/pkg/pipeline"
)

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// statusFor maps a pipeline error kind to its HTTP status.
func statusFor(kind pipeline.Kind) int {
	switch kind {
	case pipeline.KindValidation, pipeline.KindUpstream, pipeline.KindNotFound:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := pipeline.KindOf(err)
	status := statusFor(kind)

	detail := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("kind", string(kind)),
			zap.Error(err))
		detail = "Internal server error"
	} else {
		s.logger.Warn("request rejected",
			zap.String("path", r.URL.Path),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}

	writeJSON(w, status, errorResponse{Detail: detail})
}

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their wire name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// validateRequest checks req against its validate tags and returns a
// validation pipeline error describing the first failing field.
func (s *Server) validateRequest(req interface{}) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &pipeline.Error{Kind: pipeline.KindValidation, Message: err.Error(), Err: err}
	}

	fe := fieldErrs[0]
	var msg string
	switch fe.Tag() {
	case "required":
		msg = fmt.Sprintf("%s is required", fe.Field())
	case "max":
		msg = fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		msg = fmt.Sprintf("%s failed validation on '%s'", fe.Field(), fe.Tag())
	}
	return &pipeline.Error{Kind: pipeline.KindValidation, Message: msg, Err: err}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &pipeline.Error{Kind: pipeline.KindValidation, Message: "invalid request body", Err: err}
	}
	return nil
}
