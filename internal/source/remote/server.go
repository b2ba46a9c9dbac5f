package remote

import (
	"context"
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

// Source is the subset of inference.ProbabilitySource the server needs.
type Source interface {
	Infer(ctx context.Context, window []int) ([]float32, error)
}

// Server exposes a Source over the /info and /infer protocol that Client
// speaks.
type Server struct {
	src  Source
	info Info
}

func NewServer(src Source, info Info) (*Server, error) {
	if src == nil {
		return nil, fmt.Errorf("remote: nil source")
	}
	if info.VocabSize <= 0 || info.MaxSeqLength <= 0 {
		return nil, fmt.Errorf("remote: invalid model shape %+v", info)
	}
	return &Server{src: src, info: info}, nil
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/info", s.handleInfo)
	e.POST("/infer", s.handleInfer)
}

func (s *Server) handleInfo(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.info)
}

func (s *Server) handleInfer(c *echo.Context) error {
	var req InferRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "decode request: "+err.Error())
	}
	if len(req.Window) != s.info.MaxSeqLength {
		return writeError(c, http.StatusBadRequest,
			fmt.Sprintf("window has %d tokens, want %d", len(req.Window), s.info.MaxSeqLength))
	}
	for i, id := range req.Window {
		if id < 0 || id >= s.info.VocabSize {
			return writeError(c, http.StatusBadRequest,
				fmt.Sprintf("token %d at position %d outside vocabulary of size %d", id, i, s.info.VocabSize))
		}
	}

	probs, err := s.src.Infer(c.Request().Context(), req.Window)
	if err != nil {
		return writeError(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, InferResponse{Probs: probs})
}

func writeError(c *echo.Context, status int, msg string) error {
	return c.JSON(status, InferResponse{Error: msg})
}
