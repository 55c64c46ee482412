// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package debugapi serves a read-only HTTP view of the engines: the managed
// devices, their parked jobs, in-transit keys, dropped batches and the state
// tracker contents.
package debugapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/engine"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/logger"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/sentry"
)

// Devices gives access to the engines of the managed devices.
type Devices interface {
	Devices() []string
	Engine(device string) (*engine.Engine, bool)
}

// Server is the debug HTTP server.
type Server struct {
	devices Devices
	logger  *zap.SugaredLogger
	server  *http.Server
	router  *gin.Engine
}

// NewServer builds the server for addr. It does not listen until Start.
func NewServer(addr string, devices Devices) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		devices: devices,
		logger:  logger.For(logger.ComponentDebugAPI),
		router:  gin.New(),
	}

	s.router.Use(gin.Recovery(), s.logRequests())
	s.registerRoutes()

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	v1 := s.router.Group("/api/v1")
	v1.GET("/devices", s.listDevices)

	device := v1.Group("/devices/:device", s.requireEngine)
	device.GET("/jobs", s.listJobs)
	device.GET("/in-transit", s.listInTransit)
	device.GET("/dropped-batches", s.listDroppedBatches)
	device.GET("/state", s.getState)
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens in the background. Listen failures are reported, not
// returned.
func (s *Server) Start() {
	s.logger.Infof("Starting debug API on %s", s.server.Addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeError, s.logger)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Debugw("Debug API request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
