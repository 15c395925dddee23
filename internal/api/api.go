// Package api exposes the read-only inspection API: the operator-facing
// record of relayed flows, their messages, and any abnormal terminations.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/wsmitm/internal/buildinfo"
	"github.com/router-for-me/wsmitm/internal/proxy"
)

// Server serves the inspection endpoints over gin.
type Server struct {
	httpSrv *http.Server
}

// New builds the API server over the given flow registry.
func New(addr string, flows *proxy.Registry) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/api/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    buildinfo.Version,
			"commit":     buildinfo.Commit,
			"build_date": buildinfo.BuildDate,
		})
	})
	engine.GET("/api/flows", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"flows": flows.Summaries()})
	})
	engine.GET("/api/flows/:id", func(c *gin.Context) {
		detail, ok := flows.Detail(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown or still-live flow"})
			return
		}
		c.JSON(http.StatusOK, detail)
	})

	return &Server{
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// ListenAndServe blocks serving the API until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	log.Infof("Inspection API listening on %s", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
