package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/satwork/backend/internal/auth"
	"github.com/satwork/backend/internal/engine"
	"github.com/satwork/backend/internal/handlers"
	"github.com/satwork/backend/internal/lightning"
	"github.com/satwork/backend/internal/metrics"
	"github.com/satwork/backend/internal/middleware"
	"github.com/satwork/backend/internal/node"
	"github.com/satwork/backend/internal/reputation"
	"github.com/satwork/backend/internal/router"
	"github.com/satwork/backend/internal/services"
	"github.com/satwork/backend/internal/verification"
)

type routeDeps struct {
	manager   *services.Manager
	engine    *engine.Engine
	lnClient  *lightning.Client
	indexer   *reputation.Indexer
	verifier  *verification.Service
	metrics   *metrics.Metrics
	jwtSecret []byte
	logger    *slog.Logger
}

// buildRoutes assembles the HTTP surface on top of the orchestrator.
func buildRoutes(d routeDeps) http.Handler {
	issuer := middleware.NewTokenIssuer(d.jwtSecret, 24*time.Hour)
	authSvc := auth.NewService(d.verifier, issuer, 5*time.Minute)
	facade := node.New(d.manager, d.engine, d.lnClient, d.indexer, d.logger)

	return router.New(router.Deps{
		Tasks:    &handlers.TaskHandler{Tasks: d.manager, Logger: d.logger},
		Disputes: &handlers.DisputeHandler{Disputes: d.manager, Logger: d.logger},
		Node:     &handlers.NodeHandler{Node: facade, Logger: d.logger},
		Auth:     &handlers.AuthHandler{Auth: authSvc, Logger: d.logger},

		Issuer:     issuer,
		Suspension: d.indexer,

		Metrics: d.metrics.Handler(),
	})
}
