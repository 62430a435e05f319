package main

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/zapdesk/zapdesk-backend/database"
	"github.com/zapdesk/zapdesk-backend/internal/dashboard"
	"github.com/zapdesk/zapdesk-backend/internal/metrics"
	"github.com/zapdesk/zapdesk-backend/internal/models"
	"github.com/zapdesk/zapdesk-backend/internal/routes"
	"github.com/zapdesk/zapdesk-backend/internal/storage"
	"github.com/zapdesk/zapdesk-backend/internal/whatsapp"
	"github.com/zapdesk/zapdesk-backend/internal/ws"
)

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	// Load .env file for local development
	if os.Getenv("INSTANCE_CONNECTION_NAME") == "" {
		if err := godotenv.Load(".env"); err != nil {
			log.Println("⚠️  No .env file found - checking environment variables")
		}
	}

	if os.Getenv("JWT_SECRET") == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	port := env("PORT", "8080")
	dataDir := env("DATA_DIR", "./data")
	sessionsDir := env("SESSIONS_DIR", filepath.Join(dataDir, "sessions"))
	mediaDir := env("MEDIA_DIR", filepath.Join(dataDir, "media"))
	faqDir := env("FAQ_DIR", filepath.Join(dataDir, "faq"))
	publicBase := env("PUBLIC_BASE_URL", "http://localhost:"+port)

	for _, dir := range []string{sessionsDir, mediaDir, faqDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal("Failed to create data directory:", err)
		}
	}

	// Initialize storage
	var store storage.Store

	// Check if we should use memory store (for testing)
	if os.Getenv("USE_MEMORY_STORE") == "true" {
		log.Println("⚠️  Using in-memory storage (not for production!)")
		store = storage.NewMemoryStore()
	} else {
		// Connect to database
		log.Println("📦 Connecting to PostgreSQL database...")
		database.Connect()

		// Run migrations
		log.Println("🔄 Running database migrations...")
		err := database.DB.AutoMigrate(
			&models.Ticket{},
			&models.Message{},
			&models.BotConfig{},
			&models.DailyStats{},
			&models.ActivityEntry{},
		)
		if err != nil {
			log.Fatal("Failed to migrate database:", err)
		}
		log.Println("✅ Database migrations completed!")

		// Use database store
		store = storage.NewDatabaseStore(database.DB)
		log.Println("✅ Using PostgreSQL database storage")
	}

	// Set global instance
	storage.SetStore(store)

	// Wire up the core components
	registry := whatsapp.NewRegistry()
	hub := ws.NewHub()
	recorder := metrics.NewRecorder(store)
	emitter := dashboard.NewEmitter(store, hub, registry)
	media := whatsapp.NewMediaStore(mediaDir, publicBase)
	ai := whatsapp.NewOpenAIResponder(os.Getenv("AI_MODEL"))
	router := whatsapp.NewRouter(store, recorder, emitter, media, ai, faqDir)
	manager := whatsapp.NewManager(registry, router, recorder, emitter, hub, sessionsDir)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName: "ZapDesk Backend",
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	// Stored media is served statically under the same paths MediaStore emits
	app.Static("/media", mediaDir)

	// Setup routes
	routes.SetupRoutes(app, routes.Deps{
		Store:    store,
		Registry: registry,
		Manager:  manager,
		Router:   router,
		Media:    media,
		Emitter:  emitter,
		Recorder: recorder,
		Hub:      hub,
		FAQDir:   faqDir,
	})

	// Graceful shutdown: disconnect sessions so credentials flush cleanly
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Println("🛑 Shutting down...")
		manager.Shutdown()
		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️  Server shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 ZapDesk backend listening on port %s", port)
	if err := app.Listen(":" + port); err != nil {
		log.Fatal("Server error:", err)
	}
}
