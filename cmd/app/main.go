// Command app is the composition root: it constructs every collaborator
// once, wires them together, and runs the HTTP server until a shutdown
// signal arrives. No package below this one reaches for a process-wide
// singleton except internal/config.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/robfig/cron/v3"

	"loyalty-bonus-engine/internal/config"
	"loyalty-bonus-engine/internal/ingress"
	"loyalty-bonus-engine/internal/ledger"
	"loyalty-bonus-engine/internal/logging"
	"loyalty-bonus-engine/internal/notify"
	"loyalty-bonus-engine/internal/referral"
	"loyalty-bonus-engine/internal/store"
	"loyalty-bonus-engine/internal/supervisor"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	config.Load()
	logging.Init(config.LogLevel(), config.EnableConsoleLogs())
	slog.Info("loyalty bonus engine starting", "version", Version, "commit", Commit, "buildDate", BuildDate)

	pool, err := store.NewPool(ctx, config.DatabaseURL(), 20, 5)
	if err != nil {
		slog.Error("failed to open database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := store.Migrate("file://db/migrations", config.DatabaseURL()); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	projects := store.NewProjectRepository(pool)
	users := store.NewUserRepository(pool)
	levels := store.NewLevelRepository(pool)
	lots := store.NewBonusLotRepository(pool)
	txs := store.NewTransactionRepository(pool)
	programs := store.NewReferralProgramRepository(pool)
	botSettings := store.NewBotSettingsRepository(pool)
	notificationLogs := store.NewNotificationLogRepository(pool)

	referralEngine := referral.NewEngine(pool, users, programs)

	// supervisorSender defers to whatever *supervisor.Supervisor is set on
	// it after construction: notify.NewService needs a TelegramSender now,
	// but the only thing that can route a send to the right project's bot
	// worker is the Supervisor, which itself needs the ledger below built
	// from this same notify.Service as its Notifier. Setting the field once
	// the Supervisor exists breaks the cycle without a package-level global.
	sender := &supervisorSender{}
	notifySvc := notify.NewService(sender, notificationLogs, users)

	ledgerSvc := ledger.NewService(pool, projects, users, levels, lots, txs, referralEngine, notifySvc, config.LedgerMaxRetries())

	super := supervisor.New(projects, botSettings, users, levels, txs, ledgerSvc, referralEngine, config.BroadcastConcurrency())
	sender.super = super

	if err := super.StartAll(ctx, config.AppURL()); err != nil {
		slog.Error("failed to start bot workers at boot", "error", err)
	}

	ledgerCron := cron.New()
	if _, err := ledgerCron.AddFunc("@every 1h", func() {
		expireDueBonusLots(ctx, ledgerSvc)
	}); err != nil {
		slog.Error("failed to schedule bonus lot expiry", "error", err)
	} else {
		ledgerCron.Start()
		defer ledgerCron.Stop()
	}

	ingressHandler := ingress.NewHandler(projects, users, ledgerSvc, referralEngine)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Mount("/webhook", ingressHandler.Router())

	router.Route("/telegram/webhook", func(r chi.Router) {
		r.Post("/{projectId}", telegramWebhookRoute(super))
	})

	router.Route("/projects/{projectId}/notifications", func(r chi.Router) {
		r.Post("/", broadcastRoute(super, users, config.AdminAPIToken()))
	})

	router.Get("/healthcheck", healthHandler(pool, super))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.HealthCheckPort()),
		Handler: router,
	}

	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, stopping bot workers")
	super.EmergencyStopAll()

	shutdownCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
}

// supervisorSender implements notify.TelegramSender by routing a send
// through whichever worker the Supervisor currently runs for projectID.
// super is nil until main assigns it right after the Supervisor is built;
// every real send happens well after that point.
type supervisorSender struct {
	super *supervisor.Supervisor
}

func (s *supervisorSender) SendMessage(ctx context.Context, projectID uuid.UUID, chatID int64, text string) error {
	if s.super == nil {
		return fmt.Errorf("supervisor not yet wired")
	}
	return s.super.SendMessageToUser(ctx, projectID, chatID, text)
}

func expireDueBonusLots(ctx context.Context, ledgerSvc *ledger.Service) {
	const batchSize = 500
	total := 0
	for {
		n, err := ledgerSvc.ExpireDueLots(ctx, batchSize)
		if err != nil {
			slog.Error("bonus lot expiry sweep failed", "error", err)
			return
		}
		total += n
		if n < batchSize {
			break
		}
	}
	if total > 0 {
		slog.Info("expired due bonus lots", "count", total)
	}
}

func telegramWebhookRoute(super *supervisor.Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "projectId"))
		if err != nil {
			http.Error(w, "invalid project id", http.StatusBadRequest)
			return
		}
		handler, ok := super.GetWebhookHandler(id)
		if !ok {
			http.NotFound(w, r)
			return
		}
		handler(w, r)
	}
}

// broadcastButtonReq is one inline-keyboard button as the admin API accepts
// it: a label and the URL it opens.
type broadcastButtonReq struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// broadcastRequest is the request body for POST
// /projects/{projectId}/notifications (§6). Type, Title, Channel and
// Priority are accepted for forward compatibility with the wider
// Notification Service payload shape but this route only ever drives the
// Telegram bot channel.
type broadcastRequest struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Channel  string `json:"channel"`
	Priority string `json:"priority"`
	Metadata struct {
		ImageURL  string               `json:"imageUrl"`
		Buttons   []broadcastButtonReq `json:"buttons"`
		ParseMode string               `json:"parseMode"`
	} `json:"metadata"`
	UserIDs []string `json:"userIds"`
}

type broadcastResponse struct {
	Success     bool     `json:"success"`
	Total       int      `json:"total"`
	SentCount   int      `json:"sentCount"`
	FailedCount int      `json:"failedCount"`
	Errors      []string `json:"errors"`
	Message     string   `json:"message"`
}

// broadcastRoute implements the admin-facing rich-broadcast endpoint (§6):
// a bearer-token-guarded POST that fans a message out to the given userIds
// (every user of the project when userIds is omitted) through its running
// bot worker, supporting an image, an inline keyboard and a parse mode
// override.
func broadcastRoute(super *supervisor.Supervisor, users *store.UserRepository, adminToken string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if adminToken == "" || r.Header.Get("Authorization") != "Bearer "+adminToken {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "projectId"))
		if err != nil {
			http.Error(w, `{"error":"invalid project id"}`, http.StatusBadRequest)
			return
		}

		var body broadcastRequest
		if err := decodeJSON(r, &body); err != nil || body.Message == "" {
			http.Error(w, `{"error":"message is required"}`, http.StatusBadRequest)
			return
		}

		userIDs, err := resolveBroadcastRecipients(r.Context(), users, id, body.UserIDs)
		if err != nil {
			http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusBadGateway)
			return
		}

		opts := supervisor.BroadcastOptions{ImageURL: body.Metadata.ImageURL, ParseMode: body.Metadata.ParseMode}
		for _, b := range body.Metadata.Buttons {
			opts.Buttons = append(opts.Buttons, supervisor.BroadcastButton{Text: b.Text, URL: b.URL})
		}

		result, err := super.SendRichBroadcast(r.Context(), id, userIDs, body.Message, opts)
		if err != nil {
			http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(broadcastResponse{
			Success:     result.Failed == 0,
			Total:       result.Total,
			SentCount:   result.Sent,
			FailedCount: result.Failed,
			Errors:      result.ErrorMessages(),
			Message:     fmt.Sprintf("sent %d/%d", result.Sent, result.Total),
		})
	}
}

// resolveBroadcastRecipients parses the request's explicit userIds, or
// falls back to every user of projectID when none were given — the "no
// userIds means everyone" default §4.7 describes.
func resolveBroadcastRecipients(ctx context.Context, users *store.UserRepository, projectID uuid.UUID, raw []string) ([]uuid.UUID, error) {
	if len(raw) > 0 {
		ids := make([]uuid.UUID, 0, len(raw))
		for _, s := range raw {
			id, err := uuid.Parse(s)
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
		return ids, nil
	}

	all, err := users.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project users: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(all))
	for _, u := range all {
		ids = append(ids, u.ID)
	}
	return ids, nil
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func healthHandler(pool *pgxpool.Pool, super *supervisor.Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		dbStatus := "ok"
		status := http.StatusOK
		if err := pool.Ping(ctx); err != nil {
			dbStatus = "error: " + err.Error()
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"status":"%s","db":"%s","runningBots":%d,"version":"%s","commit":"%s","buildDate":"%s","time":"%s"}`,
			statusWord(status), dbStatus, super.WorkerCount(), Version, Commit, BuildDate, time.Now().UTC().Format(time.RFC3339))
	}
}

func statusWord(code int) string {
	if code == http.StatusOK {
		return "ok"
	}
	return "fail"
}
