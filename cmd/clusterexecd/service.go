package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/andrej220/clusterexec/internal/lg"
	"github.com/andrej220/clusterexec/internal/processor"
	"github.com/andrej220/clusterexec/internal/serverutil"
	"github.com/andrej220/clusterexec/pkg/command"
	"github.com/andrej220/clusterexec/pkg/persistence"
	dm "github.com/andrej220/clusterexec/pkg/shared-models"
	"github.com/andrej220/clusterexec/pkg/workerpool"
)

const publishTimeout = 10 * time.Second

var errDuplicateID = errors.New("execution id already used")

type reportPublisher interface {
	Publish(ctx context.Context, key []byte, rep dm.Report) error
}

// service accepts requests, runs them on the pool and keeps a report for
// every command it has seen: live while the command is in flight, on disk
// once it is terminal.
type service struct {
	pool      *workerpool.Pool
	reports   *persistence.ReportStore
	publisher reportPublisher
	chain     *processor.Chain
	logger    lg.Logger

	mu       sync.RWMutex
	inflight map[uuid.UUID]*job
}

type job struct {
	cmd         *command.Command
	postProcess []string
}

func newService(ctx context.Context, workers int, resolver workerpool.Resolver, reports *persistence.ReportStore, publisher reportPublisher) *service {
	s := &service{
		reports:   reports,
		publisher: publisher,
		chain:     processor.NewChain(),
		logger:    lg.FromContext(ctx),
		inflight:  make(map[uuid.UUID]*job),
	}
	s.pool = workerpool.NewPool(ctx, workers,
		workerpool.WithLogger(s.logger),
		workerpool.WithResolver(resolver),
		workerpool.WithOnComplete(s.onComplete))
	return s
}

func (s *service) submit(req dm.Request) (uuid.UUID, error) {
	if req.ExecutionUID == uuid.Nil {
		req.ExecutionUID = uuid.New()
	}
	id := req.ExecutionUID

	s.mu.Lock()
	if _, ok := s.inflight[id]; ok {
		s.mu.Unlock()
		return id, errDuplicateID
	}
	if _, err := s.reports.Load(id); err == nil {
		s.mu.Unlock()
		return id, errDuplicateID
	}
	cmd := req.ToCommand()
	s.inflight[id] = &job{cmd: cmd, postProcess: req.PostProcess}
	s.mu.Unlock()

	if err := s.pool.Submit(cmd); err != nil {
		s.mu.Lock()
		delete(s.inflight, id)
		s.mu.Unlock()
		return id, err
	}
	s.logger.Info("Command accepted", lg.Stringer("id", id), lg.String("name", req.Name), lg.String("host", req.Host))
	return id, nil
}

func (s *service) onComplete(cmd *command.Command) {
	s.mu.RLock()
	j := s.inflight[cmd.ID]
	s.mu.RUnlock()

	rep := dm.NewReport(cmd)
	if j != nil && len(j.postProcess) > 0 {
		lines, err := s.chain.Apply(rep.Stdout, j.postProcess...)
		if err != nil {
			s.logger.Warn("Output post-processing failed", lg.Stringer("id", cmd.ID), lg.Err(err))
		}
		rep.Lines = lines
	}
	if err := s.reports.Save(rep); err != nil {
		s.logger.Error("Failed to save report", lg.Stringer("id", cmd.ID), lg.Err(err))
	}
	if s.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := s.publisher.Publish(ctx, cmd.ID[:], rep); err != nil {
			s.logger.Error("Failed to publish report", lg.Stringer("id", cmd.ID), lg.Err(err))
		}
		cancel()
	}

	s.mu.Lock()
	delete(s.inflight, cmd.ID)
	s.mu.Unlock()
}

func (s *service) report(id uuid.UUID) (dm.Report, error) {
	s.mu.RLock()
	j, ok := s.inflight[id]
	s.mu.RUnlock()
	if ok {
		return dm.NewReport(j.cmd), nil
	}
	return s.reports.Load(id)
}

// shutdown drains the pool and records the commands that never ran.
func (s *service) shutdown() {
	discarded := s.pool.Drain()
	for _, cmd := range discarded {
		if err := s.reports.Save(dm.NewReport(cmd)); err != nil {
			s.logger.Error("Failed to save report", lg.Stringer("id", cmd.ID), lg.Err(err))
		}
	}
	s.logger.Info("Worker pool drained", lg.Int("discarded", len(discarded)))
}

func (s *service) routes() http.Handler {
	r := mux.NewRouter()
	r.Handle("/commands", serverutil.NewValidationHandler[dm.Request](http.HandlerFunc(s.handleSubmit))).Methods(http.MethodPost)
	r.HandleFunc("/commands/{id}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	return r
}

func (s *service) handleSubmit(rw http.ResponseWriter, r *http.Request) {
	req, ok := serverutil.RequestFromContext[dm.Request](r.Context())
	if !ok {
		serverutil.WriteError(rw, http.StatusInternalServerError, "internal server error")
		return
	}
	id, err := s.submit(req)
	switch {
	case errors.Is(err, errDuplicateID):
		serverutil.WriteError(rw, http.StatusConflict, fmt.Sprintf("%v: %s", err, id))
	case errors.Is(err, workerpool.ErrPoolDrained):
		serverutil.WriteError(rw, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		s.logger.Error("Failed to submit command", lg.Err(err))
		serverutil.WriteError(rw, http.StatusInternalServerError, "failed to submit command")
	default:
		serverutil.WriteJSON(rw, http.StatusAccepted, dm.Response{ExecutionUID: id})
	}
}

func (s *service) handleGet(rw http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		serverutil.WriteError(rw, http.StatusBadRequest, "invalid execution id")
		return
	}
	rep, err := s.report(id)
	switch {
	case errors.Is(err, persistence.ErrReportNotFound):
		serverutil.WriteError(rw, http.StatusNotFound, err.Error())
	case err != nil:
		s.logger.Error("Failed to load report", lg.Stringer("id", id), lg.Err(err))
		serverutil.WriteError(rw, http.StatusInternalServerError, "failed to load report")
	default:
		serverutil.WriteJSON(rw, http.StatusOK, rep)
	}
}

func (s *service) handleHealth(rw http.ResponseWriter, _ *http.Request) {
	serverutil.WriteJSON(rw, http.StatusOK, map[string]any{
		"status":  "ok",
		"pending": s.pool.Pending(),
		"active":  s.pool.ActiveWorkers(),
		"workers": s.pool.MaxWorkers(),
	})
}

// consume feeds requests from the intake topic into the pool.
func (s *service) consume(_ context.Context, req dm.Request) {
	if err := req.Validate(); err != nil {
		s.logger.Warn("Dropping invalid request", lg.Err(err))
		return
	}
	if _, err := s.submit(req); err != nil {
		s.logger.Warn("Dropping request", lg.Stringer("id", req.ExecutionUID), lg.Err(err))
	}
}
