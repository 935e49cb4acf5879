package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"trauma-chat/config"
	"trauma-chat/handlers"
	"trauma-chat/services"
	"trauma-chat/store"
	"trauma-chat/workflows"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/memstore"
	"github.com/gin-gonic/gin"
)

// cacheWindow bounds the in-memory fallback history per conversation.
const cacheWindow = 20

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("Connected to PostgreSQL database")

	cache := services.NewHistoryCache(cacheWindow)
	assistant := services.NewGeminiService(cfg.GeminiAPIKey, cfg.GeminiAPIURL, cache)

	chatWorkflows := workflows.NewChatWorkflows(st, assistant)

	// Initialize DBOS so the exchange workflow survives crashes mid-flight.
	dbosCtx, err := dbos.NewDBOSContext(context.Background(), dbos.Config{
		DatabaseURL: cfg.DatabaseURL,
		AppName:     "trauma-chat",
	})
	if err != nil {
		log.Fatalf("Failed to initialize DBOS: %v", err)
	}

	// Workflows must be registered before Launch.
	dbos.RegisterWorkflow(dbosCtx, chatWorkflows.ExchangeWorkflow)

	if err := dbos.Launch(dbosCtx); err != nil {
		log.Fatalf("Failed to launch DBOS: %v", err)
	}
	defer dbos.Shutdown(dbosCtx, 5*time.Second)
	log.Println("DBOS initialized - durable chat exchanges enabled")

	exchanger := workflows.NewDBOSExchanger(dbosCtx, chatWorkflows)
	authHandler := handlers.NewAuthHandler(st)
	chatHandler := handlers.NewChatHandler(st, cache, exchanger)

	router := gin.Default()
	router.LoadHTMLGlob("templates/*")

	// Sessions live in process memory only; a restart logs everyone out.
	sessionStore := memstore.NewStore([]byte(cfg.SessionSecret))
	router.Use(sessions.Sessions("tcsession", sessionStore))

	router.GET("/", func(c *gin.Context) {
		c.HTML(http.StatusOK, "home.html", nil)
	})

	router.GET("/signup", authHandler.SignupPage)
	router.POST("/signup", authHandler.Signup)
	router.GET("/login", authHandler.LoginPage)
	router.POST("/login", authHandler.Login)
	router.GET("/logout", authHandler.Logout)

	router.GET("/chat", chatHandler.ChatPage)
	router.POST("/chat-api", chatHandler.ChatAPI)
	router.GET("/chat-history", chatHandler.ChatHistory)
	router.POST("/clear-chat", chatHandler.ClearChat)

	log.Printf("Starting server on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
