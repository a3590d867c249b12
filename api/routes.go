package api

import (
	"errors"
	"os"
	"strings"
)

func (s *Server) registerRoutes() error {
	if s == nil || s.router == nil {
		return nil
	}

	api := s.router.Group("/api")
	apiKey := strings.TrimSpace(os.Getenv("DOCARENA_API_KEY"))
	if apiKey == "" && s.config != nil {
		apiKey = strings.TrimSpace(s.config.Server.APIKey)
	}
	if apiKey != "" {
		api.Use(apiKeyAuthMiddleware(apiKey))
	} else if strings.EqualFold(strings.TrimSpace(os.Getenv("DOCARENA_DISABLE_AUTH")), "true") {
		// Explicitly allow unauthenticated access.
	} else {
		return errors.New("api: missing auth configuration: set DOCARENA_API_KEY or set DOCARENA_DISABLE_AUTH=true")
	}

	api.GET("/health", s.handleHealth)

	api.POST("/runs", s.handleStartRun)
	api.GET("/runs", s.handleListRuns)
	api.GET("/runs/:id", s.handleGetRun)
	api.GET("/runs/:id/stats", s.handleGetRunStats)
	api.GET("/runs/:id/stream", s.handleStreamRun)
	api.GET("/runs/:id/content", s.handleGetContent)
	api.POST("/runs/:id/cancel", s.handleCancelRun)

	api.GET("/leaderboard", s.handleGetLeaderboard)
	api.GET("/leaderboard/history", s.handleGetModelHistory)

	return nil
}
