package api

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/stellarlinkco/docarena/internal/config"
	"github.com/stellarlinkco/docarena/internal/leaderboard"
	"github.com/stellarlinkco/docarena/internal/pipeline"
	"github.com/stellarlinkco/docarena/internal/stats"
	"github.com/stellarlinkco/docarena/internal/store"
)

type Server struct {
	router *gin.Engine
	config *config.Config
	store  store.Store
	orch   *pipeline.Orchestrator
	bc     *stats.Broadcaster
	board  *leaderboard.Store
}

func NewServer(cfg *config.Config, st store.Store, orch *pipeline.Orchestrator, bc *stats.Broadcaster, board *leaderboard.Store) (*Server, error) {
	if orch == nil {
		return nil, errors.New("api: nil orchestrator")
	}
	if bc == nil {
		return nil, errors.New("api: nil broadcaster")
	}

	r := gin.New()
	s := &Server{
		router: r,
		config: cfg,
		store:  st,
		orch:   orch,
		bc:     bc,
		board:  board,
	}
	s.registerMiddleware()
	if err := s.registerRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) Run(addr string) error {
	if s == nil || s.router == nil {
		return errors.New("api: nil server")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = ":8080"
	}
	return s.router.Run(addr)
}
