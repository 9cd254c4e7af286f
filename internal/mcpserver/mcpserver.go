// Package mcpserver exposes the Controller's four operations over an HTTP
// JSON transport: POST /mcp for request/response, GET /mcp/stream for a
// server-push event feed, plus ambient /metrics and /healthz endpoints.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loykin/mcprun/internal/build"
	"github.com/loykin/mcprun/internal/controller"
	"github.com/loykin/mcprun/internal/journal"
	"github.com/loykin/mcprun/internal/logbuf"
	"github.com/loykin/mcprun/internal/supervisor"
)

const protocolVersion = "2024-11-05"

// request is the POST /mcp envelope.
type request struct {
	Op      string          `json:"op"`
	Process string          `json:"process"`
	Params  searchParamsDTO `json:"params"`
}

type searchParamsDTO struct {
	Pattern      string `json:"pattern"`
	ContextLines int    `json:"context_lines"`
	Head         int    `json:"head"`
	Tail         int    `json:"tail"`
	Index        *int   `json:"index"`
}

func (d searchParamsDTO) toParams() logbuf.Params {
	idx := -1
	if d.Index != nil {
		idx = *d.Index
	}
	return logbuf.Params{Pattern: d.Pattern, ContextLines: d.ContextLines, Head: d.Head, Tail: d.Tail, Index: idx}
}

type response struct {
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  *errorDTO   `json:"error,omitempty"`
}

type errorDTO struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// EventFeed is implemented by internal/journal for the stream endpoint's
// polling source.
type EventFeed interface {
	Recent(process string, limit int) ([]journal.Event, error)
}

// Server wires gin routes onto a Controller.
type Server struct {
	ctrl   *controller.Controller
	feed   EventFeed
	engine *gin.Engine
}

func New(ctrl *controller.Controller, feed EventFeed) *Server {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())

	s := &Server{ctrl: ctrl, feed: feed, engine: e}
	e.POST("/mcp", s.handlePost)
	e.GET("/mcp/stream", s.handleStream)
	e.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handlePost(c *gin.Context) {
	var req request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response{OK: false, Error: &errorDTO{Kind: "InvalidRequest", Message: err.Error()}})
		return
	}

	switch req.Op {
	case "handshake":
		c.JSON(http.StatusOK, response{OK: true, Result: gin.H{"protocol_version": protocolVersion}})

	case "search_logs":
		res, err := s.ctrl.SearchLogs(req.Process, req.Params.toParams())
		writeResult(c, res, err)

	case "search_build_log":
		res, err := s.ctrl.SearchBuildLog(req.Process, req.Params.toParams())
		writeResult(c, res, err)

	case "restart":
		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()
		err := s.ctrl.Restart(ctx, req.Process)
		writeResult(c, gin.H{"ok": err == nil}, err)

	case "get_status":
		c.JSON(http.StatusOK, response{OK: true, Result: s.ctrl.GetStatus()})

	default:
		c.JSON(http.StatusBadRequest, response{OK: false, Error: &errorDTO{Kind: "UnknownOperation", Message: req.Op}})
	}
}

func writeResult(c *gin.Context, result interface{}, err error) {
	if err != nil {
		c.JSON(http.StatusOK, response{OK: false, Error: &errorDTO{Kind: classify(err), Message: err.Error()}})
		return
	}
	c.JSON(http.StatusOK, response{OK: true, Result: result})
}

func classify(err error) string {
	switch {
	case errors.Is(err, logbuf.ErrInstanceNotFound):
		return "InstanceNotFound"
	case errors.Is(err, logbuf.ErrInvalidPattern):
		return "InvalidPattern"
	case errors.Is(err, supervisor.ErrBusy):
		return "Busy"
	case errors.Is(err, build.ErrBuildFailed):
		return "BuildFailed"
	default:
		return "Error"
	}
}

// handleStream pushes newline-delimited JSON events for process, polling
// the journal rather than subscribing directly so it never blocks a
// Supervisor's event write.
func (s *Server) handleStream(c *gin.Context) {
	process := c.Query("process")
	c.Header("Content-Type", "application/x-ndjson")
	c.Status(http.StatusOK)

	flusher, _ := c.Writer.(http.Flusher)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastID int64
	enc := json.NewEncoder(c.Writer)
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			events, err := s.feed.Recent(process, 20)
			if err != nil {
				continue
			}
			for i := len(events) - 1; i >= 0; i-- {
				if events[i].ID <= lastID {
					continue
				}
				_ = enc.Encode(events[i])
				lastID = events[i].ID
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}
