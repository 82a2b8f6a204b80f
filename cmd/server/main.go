package main

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/lumenchat/chatcore/internal/attachment"
	"github.com/lumenchat/chatcore/internal/chatmodel"
	"github.com/lumenchat/chatcore/internal/config"
	"github.com/lumenchat/chatcore/internal/credential"
	"github.com/lumenchat/chatcore/internal/generative"
	"github.com/lumenchat/chatcore/internal/history"
	"github.com/lumenchat/chatcore/internal/logger"
	"github.com/lumenchat/chatcore/internal/metrics"
	"github.com/lumenchat/chatcore/internal/ratelimit"
	"github.com/lumenchat/chatcore/internal/server"
	"github.com/lumenchat/chatcore/internal/shutdown"
	"github.com/lumenchat/chatcore/internal/store"
	"github.com/lumenchat/chatcore/internal/tools"
	"github.com/lumenchat/chatcore/internal/upstream"
	"github.com/lumenchat/chatcore/internal/vectorindex"
)

func main() {
	config.LoadConfig()
	cfg := config.AppConfig

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))
	log.Info("starting chatcore", "port", cfg.Port, "instance", logger.GetInstanceID())

	gin.SetMode(cfg.GinMode)

	attachmentPolicy := chatmodel.DefaultAttachmentPolicy()
	attachmentPolicy.MaxAttachmentsPerMessage = cfg.MaxAttachmentsPerMessage
	attachmentPolicy.DocExtractionDeadlineSec = cfg.DocExtractionDeadlineSec

	limiter := ratelimit.New(ratelimit.Config{
		MinuteCapacity:  cfg.RateLimitPerMinute,
		HourCapacity:    cfg.RateLimitPerHour,
		MaxTrackedUsers: cfg.MaxTrackedUsers,
	}, log)

	attachments := attachment.New(attachmentPolicy, nil, log)
	normalizer := history.New(attachmentPolicy, log)

	factory := func(cred string) (generative.Client, error) {
		return upstream.NewHTTPClient(cfg.UpstreamBaseURL, cred), nil
	}
	credentials, err := credential.New(cfg.CredCacheMax, cfg.ServerCredential, factory, log)
	if err != nil {
		log.Error("failed to construct credential cache", "error", err)
		return
	}

	registry := tools.NewRegistry()
	if err := registry.Register(tools.EchoTool{}); err != nil {
		log.Warn("failed to register echo tool", "error", err)
	}
	if cfg.SerpAPIKey != "" {
		searchTool := tools.NewWebSearchTool(tools.NewSerpAPISearcher(cfg.SerpAPIKey))
		if err := registry.Register(searchTool); err != nil {
			log.Warn("failed to register web_search tool", "error", err)
		}
	} else {
		log.Info("SERPAPI_KEY not set, web_search tool is not registered")
	}
	toolHandlers := upstream.RegistryAdapter{Registry: registry}

	vectorStore := store.NewInMemoryVectorStore()
	indexer := vectorindex.New(vectorStore.AddMessage, log)

	m := metrics.New()

	deps := &server.Dependencies{
		Limiter:        limiter,
		Attachments:    attachments,
		Normalizer:     normalizer,
		Credentials:    credentials,
		Indexer:        indexer,
		ToolHandlers:   toolHandlers,
		SystemPreamble: nil,
		Metrics:        m,
		Log:            log,
	}

	srv := server.New(":"+cfg.Port, deps)

	go func() {
		log.Info("listening", "addr", ":"+cfg.Port)
		if err := srv.ListenAndServe(); err != nil {
			log.Info("listener stopped", "error", err)
		}
	}()

	stores := []shutdown.Store{
		{Name: "vectorstore", Close: vectorStore.Close},
	}
	if cfg.DatabaseURL != "" {
		chatStore, err := store.NewChatStore(cfg.DatabaseURL)
		if err != nil {
			log.Warn("failed to open chat store, continuing without chat-history persistence", "error", err)
		} else {
			stores = append(stores, shutdown.Store{Name: "chatstore", Close: chatStore.Close})
		}
	}

	controller := shutdown.New(srv, srv.Connections(), limiter, stores, log)

	code := controller.WaitForSignal(context.Background())
	m.RecordShutdown(code)
	log.Info("shutdown complete", "code", code)
}
