// Package hooks manages the persisted deploy hooks and their trackers.
package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/splax/deploywatch/internal/domain"
	"github.com/splax/deploywatch/internal/notify"
	"github.com/splax/deploywatch/internal/poll"
	"github.com/splax/deploywatch/internal/repository"
	"github.com/splax/deploywatch/internal/tracker"
	"github.com/splax/deploywatch/pkg/crypto"
	"github.com/splax/deploywatch/pkg/vercel"
)

var (
	// ErrBusy is returned while a deployment is triggered, polled or removed.
	ErrBusy = tracker.ErrBusy
	// ErrInvalidHook wraps validation failures on Create.
	ErrInvalidHook = errors.New("hooks: invalid hook")
	// ErrNotFound is returned for unknown hook ids.
	ErrNotFound = repository.ErrNotFound
)

const eventBuffer = 256

// API is the deploy API surface used by the service.
type API interface {
	tracker.RemoteAPI
	ListDeployments(ctx context.Context, projectID, token, teamID string, limit int) ([]vercel.Deployment, error)
}

// Broadcaster pushes state payloads to live subscribers.
type Broadcaster interface {
	Broadcast(hookID string, payload []byte)
}

// StatePublisher forwards state snapshots to an external channel.
type StatePublisher interface {
	PublishState(ctx context.Context, hookID string, st domain.State) error
}

// Config carries the collaborators of a Service. Nil fields are optional.
type Config struct {
	Classifier domain.Classifier
	Scheduler  *poll.Scheduler
	Notifier   notify.Notifier
	Hub        Broadcaster
	States     StatePublisher
}

// CreateInput describes a new hook.
type CreateInput struct {
	Name        string
	URL         string
	ProjectName string
	Token       string
	TeamID      string
	TeamName    string
}

// View is a hook together with its current tracking state.
type View struct {
	Hook  domain.Hook
	State domain.State
}

type entry struct {
	hook    domain.Hook
	tracker *tracker.Tracker
}

type stateEvent struct {
	hookID string
	state  domain.State
}

// Service owns one tracker per hook.
type Service struct {
	repo     repository.HookRepository
	sealer   *crypto.Sealer
	api      API
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	mu       sync.RWMutex
	hooks    map[string]*entry
	events   chan stateEvent
	done     chan struct{}
	closed   bool
	fanoutWG sync.WaitGroup
}

// New constructs a Service and starts its state fan-out loop.
func New(repo repository.HookRepository, sealer *crypto.Sealer, api API, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	if cfg.Classifier.IsZero() {
		cfg.Classifier = domain.DefaultClassifier()
	}
	s := &Service{
		repo:   repo,
		sealer: sealer,
		api:    api,
		cfg:    cfg,
		logger: logger.With("component", "hooks"),
		now:    func() time.Time { return time.Now().UTC() },
		hooks:  make(map[string]*entry),
		events: make(chan stateEvent, eventBuffer),
		done:   make(chan struct{}),
	}
	s.fanoutWG.Add(1)
	go s.fanout()
	return s
}

// Load mounts a tracker for every persisted hook.
func (s *Service) Load(ctx context.Context) error {
	stored, err := s.repo.ListHooks(ctx)
	if err != nil {
		return fmt.Errorf("list hooks: %w", err)
	}
	for _, hook := range stored {
		if len(hook.TokenCiphertext) > 0 && s.sealer != nil {
			token, err := s.sealer.Open(hook.TokenCiphertext)
			if err != nil {
				s.logger.Warn("hook token unreadable, tracking disabled", "hook_id", hook.ID, "error", err)
			} else {
				hook.Token = token
			}
		}
		s.mount(hook)
	}
	s.logger.Info("hooks loaded", "count", len(stored))
	return nil
}

// Create validates, persists and starts tracking a hook.
func (s *Service) Create(ctx context.Context, in CreateInput) (View, error) {
	hook, err := s.validate(in)
	if err != nil {
		return View{}, err
	}
	if hook.Token != "" {
		if s.sealer == nil {
			return View{}, fmt.Errorf("%w: token storage is not configured", ErrInvalidHook)
		}
		sealed, err := s.sealer.Seal(hook.Token)
		if err != nil {
			return View{}, fmt.Errorf("seal token: %w", err)
		}
		hook.TokenCiphertext = sealed
	}
	if err := s.repo.CreateHook(ctx, &hook); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return View{}, fmt.Errorf("%w: a hook with this url already exists", ErrInvalidHook)
		}
		return View{}, fmt.Errorf("persist hook: %w", err)
	}
	e := s.mount(hook)
	s.logger.Info("hook created", "hook_id", hook.ID, "project", hook.ProjectName)
	return View{Hook: redact(hook), State: e.tracker.State()}, nil
}

func (s *Service) validate(in CreateInput) (domain.Hook, error) {
	hook := domain.Hook{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(in.Name),
		URL:         strings.TrimSpace(in.URL),
		ProjectName: strings.TrimSpace(in.ProjectName),
		Token:       strings.TrimSpace(in.Token),
		TeamID:      strings.TrimSpace(in.TeamID),
		TeamName:    strings.TrimSpace(in.TeamName),
		CreatedAt:   s.now(),
	}
	if hook.ProjectName == "" {
		return domain.Hook{}, fmt.Errorf("%w: project name is required", ErrInvalidHook)
	}
	parsed, err := url.Parse(hook.URL)
	if err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") || parsed.Host == "" {
		return domain.Hook{}, fmt.Errorf("%w: url must be an absolute http(s) url", ErrInvalidHook)
	}
	if hook.Name == "" {
		hook.Name = hook.ProjectName
	}
	return hook, nil
}

func (s *Service) mount(hook domain.Hook) *entry {
	id := hook.ID
	tr := tracker.New(
		hook.Target(),
		s.api,
		s.cfg.Scheduler,
		notify.WithHook(s.cfg.Notifier, id),
		s.logger,
		tracker.WithClassifier(s.cfg.Classifier),
		tracker.WithRemover(tracker.RemoverFunc(s.repo.DeleteHook)),
		tracker.WithObserver(func(st domain.State) { s.enqueue(id, st) }),
	)
	e := &entry{hook: hook, tracker: tr}

	s.mu.Lock()
	if old, ok := s.hooks[id]; ok {
		defer old.tracker.Close()
	}
	s.hooks[id] = e
	s.mu.Unlock()

	tr.Mount()
	return e
}

func (s *Service) lookup(id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.hooks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// List returns every hook with its state, oldest first.
func (s *Service) List(ctx context.Context) []View {
	s.mu.RLock()
	views := make([]View, 0, len(s.hooks))
	for _, e := range s.hooks {
		views = append(views, View{Hook: redact(e.hook), State: e.tracker.State()})
	}
	s.mu.RUnlock()
	sort.Slice(views, func(i, j int) bool {
		if views[i].Hook.CreatedAt.Equal(views[j].Hook.CreatedAt) {
			return views[i].Hook.ID < views[j].Hook.ID
		}
		return views[i].Hook.CreatedAt.Before(views[j].Hook.CreatedAt)
	})
	return views
}

// Get returns one hook with its state.
func (s *Service) Get(ctx context.Context, id string) (View, error) {
	e, err := s.lookup(id)
	if err != nil {
		return View{}, err
	}
	return View{Hook: redact(e.hook), State: e.tracker.State()}, nil
}

// Deploy fires the hook. It returns ErrBusy while the tracker is busy.
func (s *Service) Deploy(ctx context.Context, id string) (View, error) {
	e, err := s.lookup(id)
	if err != nil {
		return View{}, err
	}
	if err := e.tracker.StartDeployment(ctx); err != nil {
		return View{}, err
	}
	return View{Hook: redact(e.hook), State: e.tracker.State()}, nil
}

// Remove deletes the hook and tears its tracker down.
func (s *Service) Remove(ctx context.Context, id string) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	if err := e.tracker.RemoveDeployment(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	if s.hooks[id] == e {
		delete(s.hooks, id)
	}
	s.mu.Unlock()
	e.tracker.Close()
	s.logger.Info("hook removed", "hook_id", id)
	return nil
}

// Deployments lists recent deployments of the hook's project.
func (s *Service) Deployments(ctx context.Context, id string, limit int) ([]domain.Record, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	target := e.tracker.Target()
	if !target.HasCredentials() {
		return nil, fmt.Errorf("%w: hook has no api token", ErrInvalidHook)
	}
	projectID := target.ProjectID
	if projectID == "" {
		projectID, err = s.api.ResolveProject(ctx, target.ProjectName, target.Token, target.TeamID)
		if err != nil {
			return nil, fmt.Errorf("resolve project: %w", err)
		}
	}
	deployments, err := s.api.ListDeployments(ctx, projectID, target.Token, target.TeamID, limit)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	records := make([]domain.Record, 0, len(deployments))
	for _, dep := range deployments {
		records = append(records, tracker.RecordFromDeployment(dep))
	}
	return records, nil
}

// Close stops every tracker and the fan-out loop.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	entries := make([]*entry, 0, len(s.hooks))
	for _, e := range s.hooks {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.tracker.Close()
	}
	close(s.done)
	s.fanoutWG.Wait()
}

// enqueue runs under the tracker lock and must not block.
func (s *Service) enqueue(hookID string, st domain.State) {
	select {
	case s.events <- stateEvent{hookID: hookID, state: st}:
	default:
		s.logger.Warn("state event dropped", "hook_id", hookID, "status", st.Status)
	}
}

func (s *Service) fanout() {
	defer s.fanoutWG.Done()
	for {
		select {
		case ev := <-s.events:
			s.publish(ev)
		case <-s.done:
			for {
				select {
				case ev := <-s.events:
					s.publish(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) publish(ev stateEvent) {
	if s.cfg.Hub != nil {
		payload, err := json.Marshal(NewStateMessage(ev.hookID, ev.state))
		if err != nil {
			s.logger.Error("encode state message", "hook_id", ev.hookID, "error", err)
		} else {
			s.cfg.Hub.Broadcast(ev.hookID, payload)
		}
	}
	if s.cfg.States != nil {
		if err := s.cfg.States.PublishState(context.Background(), ev.hookID, ev.state); err != nil {
			s.logger.Debug("state publish failed", "hook_id", ev.hookID, "error", err)
		}
	}
}

func redact(h domain.Hook) domain.Hook {
	h.Token = ""
	h.TokenCiphertext = nil
	return h
}
