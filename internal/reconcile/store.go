package reconcile

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	xerrors "DRaaS-Chain/internal/errors"
	"DRaaS-Chain/internal/observability/metrics"
	"DRaaS-Chain/internal/scheduling"
	"DRaaS-Chain/pkg/logger"
)

// CodeSelectionSuperseded marks a detail fetch whose deployment is no longer
// selected.
const CodeSelectionSuperseded xerrors.Code = "SELECTION_SUPERSEDED"

func init() {
	xerrors.Register(CodeSelectionSuperseded, xerrors.Attributes{
		Message:  "deployment selection changed",
		Severity: xerrors.SeverityInfo,
	})
}

var (
	// ErrSelectionSuperseded is returned to the caller of a detail fetch that
	// finished after another deployment was selected. The result is dropped.
	ErrSelectionSuperseded = xerrors.New(CodeSelectionSuperseded, "deployment selection changed")
	// ErrNoSelection is returned when a selected-deployment operation runs
	// with nothing selected.
	ErrNoSelection = xerrors.New(xerrors.CodeNotFound, "no deployment selected")
)

// DefaultInterval matches the scheduler console's poll cadence.
const DefaultInterval = 5 * time.Second

const refreshKey = "refresh"

// Source is the subset of the scheduling client the store reads from.
type Source interface {
	ListAgents(ctx context.Context) (map[string]scheduling.Agent, error)
	ListDeployments(ctx context.Context) (map[string]scheduling.Deployment, error)
	FetchDeploymentDetail(ctx context.Context, deploymentID string) (scheduling.DeploymentDetail, error)
}

// Snapshot is a copy of everything the store currently exposes.
type Snapshot struct {
	Agents               map[string]scheduling.Agent      `json:"agents"`
	Deployments          map[string]scheduling.Deployment `json:"deployments"`
	AgentsFetchedAt      time.Time                        `json:"agents_fetched_at"`
	DeploymentsFetchedAt time.Time                        `json:"deployments_fetched_at"`
	SelectedID           string                           `json:"selected_id,omitempty"`
	Detail               *scheduling.DeploymentDetail     `json:"detail,omitempty"`
}

// Store holds the reconciled view of the scheduler.
//
// Snapshots are replaced wholesale: a failed fetch leaves the previous one in
// place. Concurrent refresh triggers share a single in-flight refresh.
type Store struct {
	source   Source
	interval time.Duration
	log      *slog.Logger
	group    singleflight.Group

	mu                   sync.RWMutex
	epoch                uint64
	agents               map[string]scheduling.Agent
	deployments          map[string]scheduling.Deployment
	agentsFetchedAt      time.Time
	deploymentsFetchedAt time.Time

	generation uint64
	selectedID string
	detail     *scheduling.DeploymentDetail
}

// New creates an empty store. A non-positive interval selects DefaultInterval.
func New(source Source, interval time.Duration) *Store {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Store{
		source:      source,
		interval:    interval,
		log:         logger.Named("reconcile"),
		agents:      map[string]scheduling.Agent{},
		deployments: map[string]scheduling.Deployment{},
	}
}

// Run refreshes immediately and then on every tick until ctx is done.
func (s *Store) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
			s.log.Debug("poll incomplete", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Refresh fetches agents and deployments concurrently. A refresh already in
// flight is joined rather than duplicated; the joined fetch is not cancelled
// when one waiter gives up. The returned error reports which fetches failed;
// callers that only need best-effort polling may ignore it.
func (s *Store) Refresh(ctx context.Context) error {
	ch := s.group.DoChan(refreshKey, func() (any, error) {
		return nil, s.refresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (s *Store) refresh(ctx context.Context) error {
	s.mu.RLock()
	epoch := s.epoch
	s.mu.RUnlock()

	var (
		wg                    sync.WaitGroup
		agents                map[string]scheduling.Agent
		deployments           map[string]scheduling.Deployment
		agentsErr, deploysErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		agents, agentsErr = s.source.ListAgents(ctx)
		metrics.ObservePoll("agents", len(agents), agentsErr)
	}()
	go func() {
		defer wg.Done()
		deployments, deploysErr = s.source.ListDeployments(ctx)
		metrics.ObservePoll("deployments", len(deployments), deploysErr)
	}()
	wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		// Reset ran while the fetch was in flight.
		return nil
	}
	now := time.Now().UTC()
	if agentsErr != nil {
		s.log.Warn("agent poll failed, keeping previous snapshot", "error", agentsErr)
	} else {
		s.agents = agents
		s.agentsFetchedAt = now
	}
	if deploysErr != nil {
		s.log.Warn("deployment poll failed, keeping previous snapshot", "error", deploysErr)
	} else {
		s.checkTransitions(deployments)
		s.deployments = deployments
		s.deploymentsFetchedAt = now
	}
	return stdErrors.Join(agentsErr, deploysErr)
}

// checkTransitions logs status changes the scheduler should never produce.
// They are reported, not rejected: the scheduler is authoritative.
func (s *Store) checkTransitions(next map[string]scheduling.Deployment) {
	for id, dep := range next {
		prev, ok := s.deployments[id]
		if !ok {
			continue
		}
		if err := scheduling.ValidateTransition(prev.Status, dep.Status); err != nil {
			s.log.Warn("unexpected deployment transition", "deployment_id", id, "error", err)
		}
	}
}

// SelectDeployment makes id the selected deployment and fetches its detail.
// If another deployment is selected before the fetch returns, the result is
// discarded and ErrSelectionSuperseded is returned.
func (s *Store) SelectDeployment(ctx context.Context, id string) (scheduling.DeploymentDetail, error) {
	if id == "" {
		return scheduling.DeploymentDetail{}, xerrors.New(xerrors.CodeInvalidArgument, "deployment id is required")
	}
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.selectedID = id
	s.detail = nil
	s.mu.Unlock()

	return s.fetchDetail(ctx, gen, id)
}

// RefreshSelected refetches the detail of the current selection. The shown
// detail stays in place until the new one arrives.
func (s *Store) RefreshSelected(ctx context.Context) (scheduling.DeploymentDetail, error) {
	s.mu.Lock()
	id := s.selectedID
	if id == "" {
		s.mu.Unlock()
		return scheduling.DeploymentDetail{}, ErrNoSelection
	}
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	return s.fetchDetail(ctx, gen, id)
}

func (s *Store) fetchDetail(ctx context.Context, gen uint64, id string) (scheduling.DeploymentDetail, error) {
	detail, err := s.source.FetchDeploymentDetail(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		s.log.Debug("discarding superseded detail", "deployment_id", id)
		return scheduling.DeploymentDetail{}, ErrSelectionSuperseded
	}
	if err != nil {
		return scheduling.DeploymentDetail{}, err
	}
	s.detail = &detail
	return cloneDetail(detail), nil
}

// ClearSelection drops the selection and any fetch still in flight for it.
func (s *Store) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearSelectionLocked()
}

func (s *Store) clearSelectionLocked() {
	s.generation++
	s.selectedID = ""
	s.detail = nil
}

// Reset empties the store. Fetches in flight when Reset runs are discarded.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.agents = map[string]scheduling.Agent{}
	s.deployments = map[string]scheduling.Deployment{}
	s.agentsFetchedAt = time.Time{}
	s.deploymentsFetchedAt = time.Time{}
	s.clearSelectionLocked()
}

// CurrentAgents returns a copy of the agent snapshot.
func (s *Store) CurrentAgents() map[string]scheduling.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]scheduling.Agent, len(s.agents))
	for id, agent := range s.agents {
		out[id] = agent
	}
	return out
}

// CurrentDeployments returns a copy of the deployment snapshot.
func (s *Store) CurrentDeployments() map[string]scheduling.Deployment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneDeployments(s.deployments)
}

// Deployment looks up one deployment in the snapshot.
func (s *Store) Deployment(id string) (scheduling.Deployment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dep, ok := s.deployments[id]
	if !ok {
		return scheduling.Deployment{}, false
	}
	dep.MappedPorts = dep.MappedPorts.Clone()
	return dep, true
}

// Agent looks up one agent in the snapshot.
func (s *Store) Agent(id string) (scheduling.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	return agent, ok
}

// SelectedID returns the selected deployment id, or "".
func (s *Store) SelectedID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedID
}

// SelectedDeploymentDetail returns the detail of the selected deployment once
// it has been fetched.
func (s *Store) SelectedDeploymentDetail() (scheduling.DeploymentDetail, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.detail == nil {
		return scheduling.DeploymentDetail{}, false
	}
	return cloneDetail(*s.detail), true
}

// Snapshot returns a consistent copy of the whole store.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Agents:               make(map[string]scheduling.Agent, len(s.agents)),
		Deployments:          cloneDeployments(s.deployments),
		AgentsFetchedAt:      s.agentsFetchedAt,
		DeploymentsFetchedAt: s.deploymentsFetchedAt,
		SelectedID:           s.selectedID,
	}
	for id, agent := range s.agents {
		snap.Agents[id] = agent
	}
	if s.detail != nil {
		detail := cloneDetail(*s.detail)
		snap.Detail = &detail
	}
	return snap
}

func cloneDeployments(in map[string]scheduling.Deployment) map[string]scheduling.Deployment {
	out := make(map[string]scheduling.Deployment, len(in))
	for id, dep := range in {
		dep.MappedPorts = dep.MappedPorts.Clone()
		out[id] = dep
	}
	return out
}

func cloneDetail(detail scheduling.DeploymentDetail) scheduling.DeploymentDetail {
	detail.MappedPorts = detail.MappedPorts.Clone()
	return detail
}
