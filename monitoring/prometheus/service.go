// Package prometheus exposes the process metrics and health endpoints.
package prometheus

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/gatekit/gatekit/runtime"
)

var log = logrus.WithField("prefix", "prometheus")

// Service provides Prometheus metrics via the /metrics route. This route will
// show all the metrics registered with the Prometheus DefaultRegisterer.
type Service struct {
	server      *http.Server
	svcRegistry *runtime.ServiceRegistry
	failStatus  error
}

// logHookOnce guards the hook installation: tests and hosts may build
// several Services against one process-wide logger.
var logHookOnce sync.Once

// NewService sets up a new instance for a given address host:port.
// An empty host will match with any IP so an address like ":9090" is
// perfectly acceptable. The first call also installs the log-counting
// hook on the standard logger.
func NewService(addr string, svcRegistry *runtime.ServiceRegistry) *Service {
	logHookOnce.Do(func() {
		logrus.AddHook(NewLogrusCollector())
	})
	s := &Service{svcRegistry: svcRegistry}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.healthzHandler)
	mux.HandleFunc("/goroutinez", s.goroutinezHandler)

	s.server = &http.Server{Addr: addr, Handler: mux}

	return s
}

func (s *Service) healthzHandler(w http.ResponseWriter, r *http.Request) {
	statuses := s.svcRegistry.Statuses()
	hasError := false
	var buf bytes.Buffer
	type serviceStatus struct {
		Name   string `json:"service"`
		Status string `json:"status"`
		Err    string `json:"error,omitempty"`
	}
	var data []serviceStatus
	for k, v := range statuses {
		status := serviceStatus{Name: fmt.Sprintf("%v", k), Status: "OK"}
		if v != nil {
			hasError = true
			status.Status = "ERROR"
			status.Err = v.Error()
		}
		data = append(data, status)
		if _, err := buf.WriteString(fmt.Sprintf("%s: %s %s\n", status.Name, status.Status, status.Err)); err != nil {
			hasError = true
		}
	}

	if hasError {
		w.WriteHeader(http.StatusInternalServerError)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	response := generatedResponse{Data: buf}
	if negotiateContentType(r) == contentTypeJSON {
		response.Data = data
	}
	if err := writeResponse(w, r, response); err != nil {
		log.Errorf("Could not write healthz body %v", err)
	}
}

func (s *Service) goroutinezHandler(w http.ResponseWriter, _ *http.Request) {
	stack := debug.Stack()
	// #nosec G104
	w.Write(stack)
	// #nosec G104
	pprof.Lookup("goroutine").WriteTo(w, 2)
}

// Start the prometheus service.
func (s *Service) Start() {
	log.WithField("endpoint", s.server.Addr).Info("Starting service")
	go func() {
		err := s.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Errorf("Could not listen to host:port :%s: %v", s.server.Addr, err)
			s.failStatus = err
		}
	}()
}

// Stop the service gracefully.
func (s *Service) Stop() error {
	log.Info("Stopping service")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Status checks for any service failure conditions.
func (s *Service) Status() error {
	if s.failStatus != nil {
		return s.failStatus
	}
	return nil
}
