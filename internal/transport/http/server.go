package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"worison/internal/ai"
	appsvc "worison/internal/app"
	"worison/internal/bootstrap"
	"worison/internal/repository"
	"worison/internal/transport/http/handler"
	"worison/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.MaxMultipartMemory = app.Config.MaxUploadBytes()

	userRepo := repository.NewUserRepository(app.MySQL)
	sessionRepo := repository.NewSessionRepository(app.MySQL)
	messageRepo := repository.NewMessageRepository(app.MySQL)

	authService := appsvc.NewAuthService(
		userRepo,
		app.Config.Auth.JWTSecret,
		time.Duration(app.Config.Auth.JWTExpireMinute)*time.Minute,
	)
	documentService := appsvc.NewDocumentService(
		app.Store,
		app.Extractor,
		app.Gateway,
		app.LLMClient,
		ai.EmbeddingConfig{
			BaseURL: app.Config.LLM.BaseURL,
			APIKey:  app.Config.LLM.APIKey,
			Model:   app.Config.LLM.EmbeddingModel,
		},
	)
	go documentService.ReindexCached()
	chatService := appsvc.NewChatService(
		sessionRepo,
		messageRepo,
		app.Publisher,
		app.HistoryCache,
		app.Gateway,
		documentService,
	)

	healthHandler := handler.NewHealthHandler(app, documentService)
	authHandler := handler.NewAuthHandler(authService, app.Config.Auth.JWTExpireMinute*60)
	chatHandler := handler.NewChatHandler(chatService)
	documentHandler := handler.NewDocumentHandler(documentService, chatService, app.Config.MaxUploadBytes())

	router.GET("/ping", healthHandler.Ping)
	router.GET("/healthz", healthHandler.Check)

	router.POST("/signup", authHandler.Signup)
	router.POST("/login", authHandler.Login)
	router.POST("/logout", authHandler.Logout)

	authed := router.Group("/")
	authed.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	authed.GET("/me", authHandler.Me)
	authed.POST("/chat", chatHandler.Chat)
	authed.POST("/stream_chat", chatHandler.StreamChat)
	authed.POST("/upload", documentHandler.Upload)
	authed.POST("/explain_file", documentHandler.ExplainFile)
	authed.GET("/uploads/:name", documentHandler.Serve)

	api := router.Group("/api")
	api.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	api.POST("/summarize", documentHandler.Summarize)
	api.POST("/keywords", documentHandler.Keywords)
	api.GET("/sessions", chatHandler.ListSessions)
	api.GET("/session/:id", chatHandler.SessionMessages)
	api.GET("/search", documentHandler.Search)

	return router
}
