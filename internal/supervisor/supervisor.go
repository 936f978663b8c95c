// Package supervisor owns one botworker.Worker per active project,
// serializes lifecycle changes per project with their own mutex, and fans a
// broadcast out across a project's users with bounded concurrency.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"loyalty-bonus-engine/internal/botworker"
	"loyalty-bonus-engine/internal/ledger"
	"loyalty-bonus-engine/internal/referral"
	"loyalty-bonus-engine/internal/store"
)

// Supervisor tracks every project's running Worker and the per-project
// mutex guarding lifecycle transitions (create/update/stop), so a restart
// request for project A never blocks on a restart of project B.
type Supervisor struct {
	mu      sync.RWMutex
	workers map[uuid.UUID]*botworker.Worker
	locks   map[uuid.UUID]*sync.Mutex

	projects *store.ProjectRepository
	settings *store.BotSettingsRepository
	users    *store.UserRepository
	levels   *store.LevelRepository
	txs      *store.TransactionRepository
	ledger   *ledger.Service
	referral *referral.Engine

	concurrency int
}

func New(projects *store.ProjectRepository, settings *store.BotSettingsRepository, users *store.UserRepository,
	levels *store.LevelRepository, txs *store.TransactionRepository, ledgerSvc *ledger.Service,
	referralEngine *referral.Engine, broadcastConcurrency int) *Supervisor {
	return &Supervisor{
		workers:     make(map[uuid.UUID]*botworker.Worker),
		locks:       make(map[uuid.UUID]*sync.Mutex),
		projects:    projects,
		settings:    settings,
		users:       users,
		levels:      levels,
		txs:         txs,
		ledger:      ledgerSvc,
		referral:    referralEngine,
		concurrency: broadcastConcurrency,
	}
}

func (s *Supervisor) lockFor(projectID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[projectID]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[projectID] = l
	return l
}

// StartAll boots a Worker for every enabled project's bot settings at
// process start.
func (s *Supervisor) StartAll(ctx context.Context, appURL string) error {
	enabled, err := s.settings.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("list enabled bot settings: %w", err)
	}
	for _, bs := range enabled {
		if err := s.CreateBot(ctx, bs.ProjectID, bs.BotToken, bs.WebhookMode, appURL); err != nil {
			slog.Error("failed to start bot worker at boot", "projectId", bs.ProjectID, "error", err)
		}
	}
	return nil
}

// CreateBot constructs and starts a Worker for projectID, replacing any
// existing one under that project's own lock.
func (s *Supervisor) CreateBot(ctx context.Context, projectID uuid.UUID, botToken string, webhookMode bool, appURL string) error {
	lock := s.lockFor(projectID)
	lock.Lock()
	defer lock.Unlock()

	if existing := s.getWorker(projectID); existing != nil {
		existing.Stop()
	}

	mode := botworker.PollingMode
	if webhookMode {
		mode = botworker.WebhookMode
	}

	worker, err := botworker.NewWorker(botworker.Config{
		ProjectID: projectID,
		BotToken:  botToken,
		Mode:      mode,
		AppURL:    appURL,
		Users:     s.users,
		Levels:    s.levels,
		Txs:       s.txs,
		Ledger:    s.ledger,
		Referral:  s.referral,
	})
	if err != nil {
		return fmt.Errorf("create worker for project %s: %w", projectID, err)
	}
	worker.Start(ctx)

	s.mu.Lock()
	s.workers[projectID] = worker
	s.mu.Unlock()
	return nil
}

// UpdateBot restarts a project's Worker with a new token or mode — a bot
// token rotation or a polling/webhook switch both go through here so they
// always happen under that project's own lock.
func (s *Supervisor) UpdateBot(ctx context.Context, projectID uuid.UUID, botToken string, webhookMode bool, appURL string) error {
	return s.CreateBot(ctx, projectID, botToken, webhookMode, appURL)
}

// StopBot stops and removes a project's Worker.
func (s *Supervisor) StopBot(projectID uuid.UUID) {
	lock := s.lockFor(projectID)
	lock.Lock()
	defer lock.Unlock()

	worker := s.getWorker(projectID)
	if worker == nil {
		return
	}
	worker.Stop()

	s.mu.Lock()
	delete(s.workers, projectID)
	s.mu.Unlock()
}

// EmergencyStopAll stops every running worker in parallel, waits for each
// worker's own 2s cancellation grace, and then sleeps a further 3s before
// returning.
func (s *Supervisor) EmergencyStopAll() {
	s.mu.RLock()
	projectIDs := make([]uuid.UUID, 0, len(s.workers))
	for id := range s.workers {
		projectIDs = append(projectIDs, id)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range projectIDs {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.StopBot(id)
		}()
	}
	wg.Wait()
	time.Sleep(3 * time.Second)
}

func (s *Supervisor) getWorker(projectID uuid.UUID) *botworker.Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workers[projectID]
}

// GetWebhookHandler returns the HTTP handler for a project's worker, for
// cmd/app/main.go to mount at that project's webhook path.
func (s *Supervisor) GetWebhookHandler(projectID uuid.UUID) (http.HandlerFunc, bool) {
	worker := s.getWorker(projectID)
	if worker == nil {
		return nil, false
	}
	return worker.WebhookHandler(), true
}

// WorkerCount reports how many bots are currently running, for the health
// check endpoint.
func (s *Supervisor) WorkerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workers)
}

// BroadcastButton is one inline-keyboard button the caller wants attached to
// a broadcast, in insertion order.
type BroadcastButton struct {
	Text string
	URL  string
}

// BroadcastOptions carries the rich-send extras a broadcast can opt into:
// ImageURL switches the send from sendMessage to sendPhoto(caption), Buttons
// lay out an inline keyboard two per row, and ParseMode overrides the
// default HTML parse mode.
type BroadcastOptions struct {
	ImageURL  string
	Buttons   []BroadcastButton
	ParseMode string
}

// BroadcastResult reports one project's fan-out outcome. Sent+Failed always
// equals Total: every userId passed in either got a message or was counted
// as a failure, never silently dropped.
type BroadcastResult struct {
	Total  int
	Sent   int
	Failed int
	Errors *multierror.Error
}

// ErrorMessages flattens Errors into plain strings, for a caller (the
// broadcast HTTP route) that needs to serialize them into a JSON response
// without reaching into the multierror type itself.
func (r *BroadcastResult) ErrorMessages() []string {
	if r.Errors == nil {
		return nil
	}
	msgs := make([]string, 0, len(r.Errors.Errors))
	for _, e := range r.Errors.Errors {
		msgs = append(msgs, e.Error())
	}
	return msgs
}

// SendRichBroadcast sends message to exactly the users named by userIDs,
// with bounded concurrency: at most s.concurrency messages in flight at
// once, gated by a buffered channel instead of one serial loop, since a
// broadcast list can be much larger than a single operator's customer base.
// A user with no linked Telegram account is counted as failed with reason
// "not linked" rather than skipped, so Sent+Failed always equals
// len(userIDs).
func (s *Supervisor) SendRichBroadcast(ctx context.Context, projectID uuid.UUID, userIDs []uuid.UUID, message string, opts BroadcastOptions) (*BroadcastResult, error) {
	worker := s.getWorker(projectID)
	if worker == nil {
		return nil, fmt.Errorf("no running bot worker for project %s", projectID)
	}

	buttons := make([]botworker.RichButton, 0, len(opts.Buttons))
	for _, b := range opts.Buttons {
		buttons = append(buttons, botworker.RichButton{Text: b.Text, URL: b.URL})
	}

	result := &BroadcastResult{Total: len(userIDs)}
	var mu sync.Mutex
	var wg sync.WaitGroup
	gate := make(chan struct{}, s.concurrency)

	for _, id := range userIDs {
		id := id
		gate <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-gate }()

			u, err := s.users.FindByID(ctx, id)
			if err != nil {
				mu.Lock()
				result.Failed++
				result.Errors = multierror.Append(result.Errors, fmt.Errorf("user %s: %w", id, err))
				mu.Unlock()
				return
			}
			if u == nil || u.TelegramID == nil {
				mu.Lock()
				result.Failed++
				result.Errors = multierror.Append(result.Errors, fmt.Errorf("user %s: not linked", id))
				mu.Unlock()
				return
			}

			sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			sendErr := worker.SendRich(sendCtx, *u.TelegramID, message, opts.ImageURL, buttons, opts.ParseMode)

			mu.Lock()
			defer mu.Unlock()
			if sendErr != nil {
				result.Failed++
				result.Errors = multierror.Append(result.Errors, fmt.Errorf("user %s: %w", id, sendErr))
			} else {
				result.Sent++
			}
		}()
	}
	wg.Wait()
	return result, nil
}

// SendMessageToUser delivers a single message through projectID's running
// worker, for the Notification Service's Telegram channel to call without
// holding a worker reference of its own. Returns an error if no worker is
// currently running for that project.
func (s *Supervisor) SendMessageToUser(ctx context.Context, projectID uuid.UUID, chatID int64, text string) error {
	worker := s.getWorker(projectID)
	if worker == nil {
		return fmt.Errorf("no running bot worker for project %s", projectID)
	}
	return worker.SendMessage(ctx, chatID, text)
}

// CheckBotHealth reports whether projectID's worker is currently running —
// the per-bot half of the process health check.
func (s *Supervisor) CheckBotHealth(projectID uuid.UUID) bool {
	worker := s.getWorker(projectID)
	return worker != nil && worker.Status() == botworker.StatusRunning
}
