package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/localos/nuru/pkg/cache"
	"github.com/localos/nuru/pkg/cip"
	"github.com/localos/nuru/pkg/config"
	"github.com/localos/nuru/pkg/engine"
	"github.com/localos/nuru/pkg/enrich"
	"github.com/localos/nuru/pkg/intel"
	"github.com/localos/nuru/pkg/lead"
	"github.com/localos/nuru/pkg/llm"
	"github.com/localos/nuru/pkg/notify"
	"github.com/localos/nuru/pkg/security"
	"github.com/localos/nuru/pkg/signal"
	"github.com/localos/nuru/pkg/store"
	"github.com/localos/nuru/pkg/work"
)

const Version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServer()
	case "extract":
		if len(os.Args) < 3 {
			fmt.Println("Usage: nuru extract <text>")
			os.Exit(1)
		}
		runExtract(strings.Join(os.Args[2:], " "))
	case "classify":
		if len(os.Args) < 3 {
			fmt.Println("Usage: nuru classify <text>")
			os.Exit(1)
		}
		runClassify(strings.Join(os.Args[2:], " "))
	case "version":
		fmt.Printf("Nuru v%s\n", Version)
		fmt.Println("Conversation intelligence and lead qualification engine")
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Nuru v%s - conversation intelligence engine\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  nuru serve              Start the HTTP server")
	fmt.Println("  nuru extract <text>     Run signal extraction on text")
	fmt.Println("  nuru classify <text>    Run security classification on text")
	fmt.Println("  nuru version            Show version")
	fmt.Println("")
	fmt.Println("Configuration is read from NURU_* environment variables;")
	fmt.Println("see pkg/config for the full list.")
}

// ============================================================================
// HTTP Server Mode
// ============================================================================

func runServer() {
	cfg := config.NewDefaultConfig()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	db, err := store.New(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal("database unavailable", zap.Error(err))
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatal("schema setup failed", zap.Error(err))
	}

	var c cache.Cache
	switch cfg.CacheBackend {
	case config.CacheRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("redis unavailable", zap.Error(err))
		}
		c = cache.NewRedis(rdb, cfg.EnrichTTL)
		log.Info("cache backend: redis", zap.String("addr", cfg.RedisAddr))
	default:
		c = cache.NewMemory(cfg.EnrichTTL)
		log.Info("cache backend: memory")
	}

	tables := signal.DefaultTables()
	if cfg.KeywordsPath != "" {
		loaded, err := signal.LoadTables(cfg.KeywordsPath)
		if err != nil {
			log.Warn("keyword file not loaded, using built-in tables",
				zap.String("path", cfg.KeywordsPath), zap.Error(err))
		} else {
			tables = loaded
		}
	}

	pool := work.NewPool(cfg.WorkerCapacity, cfg.TaskTimeout, log)

	var senders []notify.Sender
	if cfg.EmailEndpoint != "" {
		senders = append(senders, notify.NewEmailSender(cfg.EmailEndpoint, cfg.EmailAPIKey, cfg.EmailFrom, cfg.EmailTo))
	}
	if cfg.ChatWebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.ChatWebhookURL))
	}
	if cfg.PushEndpoint != "" {
		senders = append(senders, notify.NewPushSender(cfg.PushEndpoint, cfg.PushChatID))
	}
	dispatcher := notify.NewDispatcher(senders, pool, cfg.NotifyRetries, cfg.NotifyRetryWait, log)
	log.Info("notification channels configured", zap.Int("count", len(senders)))

	completer := llm.NewHTTPClient(cfg.LLMBaseURL, cfg.LLMAPIKey,
		cfg.LLMChatModel, cfg.LLMDeepModel, cfg.LLMMaxTokens,
		llm.WithTimeout(cfg.LLMTimeout))
	// Escalation summaries run on the strong model tier.
	summarizer := llm.NewHTTPClient(cfg.LLMBaseURL, cfg.LLMAPIKey,
		cfg.LLMChatModel, cfg.LLMDeepModel, cfg.LLMMaxTokens,
		llm.WithTask(llm.TaskEscalation), llm.WithTimeout(cfg.LLMTimeout))

	eng := engine.New(engine.Options{
		Storage:      db,
		Completer:    completer,
		Extractor:    signal.NewExtractor(tables),
		Detector:     security.NewDetector(),
		Records:      intel.NewManager(db, log),
		Segmenter:    intel.NewSegmenter(tables, db, cfg.SegmentTurnThreshold, log),
		Patterns:     cip.NewEngine(db, c, log),
		Qualifier:    lead.NewQualifier(db, dispatcher, tables, cfg.AgentName, log, lead.WithSummarizer(summarizer)),
		Alerter:      dispatcher,
		Geo:          enrich.NewGeoResolver(cfg.GeoEndpoint, cfg.GeoTimeout, c, cfg.EnrichTTL, log),
		Sessions:     enrich.NewSessionResolver(db, c, cfg.EnrichTTL, log),
		Pool:         pool,
		Log:          log,
		SystemPrompt: cfg.SystemPrompt,
		HistoryLimit: cfg.HistoryLimit,
	})

	app := fiber.New(fiber.Config{
		AppName: "Nuru",
	})

	app.Get("/api/health", func(fc fiber.Ctx) error {
		stats := pool.Stats()
		return fc.JSON(fiber.Map{
			"status":           "ok",
			"version":          Version,
			"security_rules":   security.Get().TotalPatterns(),
			"tasks_in_flight":  stats.InFlight,
			"tasks_completed":  stats.Completed,
			"tasks_dropped":    stats.Dropped,
		})
	})

	app.Post("/api/chat", func(fc fiber.Ctx) error {
		var req struct {
			SessionID      string `json:"session_id"`
			Message        string `json:"message"`
			ReferrerURL    string `json:"referrer_url"`
			ReferrerSource string `json:"referrer_source"`
			DeviceType     string `json:"device_type"`
		}
		if err := fc.Bind().Body(&req); err != nil {
			return fc.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}

		res, err := eng.ProcessTurn(fc.Context(), req.SessionID, req.Message, engine.EntryMetadata{
			SourceIP:       fc.IP(),
			ReferrerURL:    req.ReferrerURL,
			ReferrerSource: req.ReferrerSource,
			DeviceType:     req.DeviceType,
		})
		if errors.Is(err, engine.ErrEmptyMessage) {
			return fc.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "message is required"})
		}
		if err != nil {
			// Full detail stays server-side.
			log.Error("turn failed", zap.Error(err))
			return fc.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "something went wrong"})
		}
		return fc.JSON(res)
	})

	app.Post("/api/chat/close", func(fc fiber.Ctx) error {
		var req struct {
			SessionID string `json:"session_id"`
		}
		if err := fc.Bind().Body(&req); err != nil || req.SessionID == "" {
			return fc.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "session_id is required"})
		}

		err := eng.CloseConversation(fc.Context(), req.SessionID)
		if errors.Is(err, engine.ErrUnknownSession) {
			return fc.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown session"})
		}
		if err != nil {
			log.Error("close failed", zap.Error(err))
			return fc.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "something went wrong"})
		}
		return fc.JSON(fiber.Map{"status": "closed"})
	})

	app.Get("/api/intelligence/summary", func(fc fiber.Ctx) error {
		sum, err := eng.IntelligenceSummary(fc.Context())
		if err != nil {
			log.Error("summary failed", zap.Error(err))
			return fc.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "something went wrong"})
		}
		return fc.JSON(sum)
	})

	app.Get("/api/patterns", func(fc fiber.Ctx) error {
		industry := fc.Query("industry")
		if industry == "" {
			return fc.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "industry is required"})
		}
		rows, err := eng.Patterns(fc.Context(), industry, queryInt(fc, "min", 1), queryInt(fc, "limit", 20))
		if err != nil {
			log.Error("pattern query failed", zap.Error(err))
			return fc.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "something went wrong"})
		}
		return fc.JSON(fiber.Map{"industry": industry, "patterns": rows})
	})

	log.Info("nuru listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("agent", cfg.AgentName),
		zap.Int("worker_capacity", cfg.WorkerCapacity))

	if err := app.Listen(cfg.ListenAddr); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func queryInt(fc fiber.Ctx, key string, def int) int {
	v := fc.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// ============================================================================
// CLI Modes
// ============================================================================

func runExtract(text string) {
	cfg := config.NewDefaultConfig()
	tables := signal.DefaultTables()
	if cfg.KeywordsPath != "" {
		if loaded, err := signal.LoadTables(cfg.KeywordsPath); err == nil {
			tables = loaded
		}
	}

	det := signal.NewExtractor(tables).Extract(text)
	out, _ := json.MarshalIndent(det, "", "  ")
	fmt.Println(string(out))
}

func runClassify(text string) {
	c := security.NewDetector().Classify(text)
	out, _ := json.MarshalIndent(c, "", "  ")
	fmt.Println(string(out))
}
