package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ShopScout/server/internal/config"
	"ShopScout/server/internal/detector"
	"ShopScout/server/internal/engine"
	"ShopScout/server/internal/interfaces"
	"ShopScout/server/internal/interview"
	"ShopScout/server/internal/logging"
	"ShopScout/server/internal/prompts"
	"ShopScout/server/internal/rag"
	"ShopScout/server/internal/responders"
	"ShopScout/server/internal/storage"
	"ShopScout/server/internal/summarizer"
	"ShopScout/server/internal/web"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Logging)
	defer log.Sync()

	// Session storage is required; everything else degrades.
	mysqlStore, err := storage.NewMySQLStore(cfg.Database.MySQL)
	if err != nil {
		log.Fatal("mysql connection failed", zap.Error(err))
	}
	defer mysqlStore.Close()
	log.Info("mysql connected")

	redisStore, err := storage.NewRedisStore(cfg.Database.Redis)
	if err != nil {
		log.Warn("redis unavailable, running without turn cache and shared locks", zap.Error(err))
		redisStore = nil
	} else {
		defer redisStore.Close()
		log.Info("redis connected")
	}

	if cfg.AI.Provider.APIKey == "" {
		log.Warn("no provider api key configured, generation will fail")
	}

	embedder := rag.NewEmbeddingService(cfg.AI.Embedding)

	var vectorIndex interfaces.VectorIndex
	qdrantIndex, err := rag.NewQdrantIndex(cfg.Database.Qdrant)
	if err != nil {
		log.Warn("qdrant unavailable, memory decisions fall back to recent turns", zap.Error(err))
	} else {
		defer qdrantIndex.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := qdrantIndex.EnsureCollection(ctx); err != nil {
			log.Warn("qdrant collection setup failed", zap.Error(err))
		} else {
			vectorIndex = qdrantIndex
			log.Info("qdrant connected", zap.String("collection", cfg.Database.Qdrant.Collection))
		}
		cancel()
	}

	turnIndex := rag.NewTurnIndex(embedder, vectorIndex, log)

	provider := engine.NewOpenAIProvider(cfg.AI.Provider, log)
	templates := prompts.NewTemplateEngine()

	classifier := detector.NewClassifier()
	det := detector.NewDetector(classifier, embedder, cfg.Memory, log)
	retrieval := rag.NewRetrievalEngine(mysqlStore, redisStore, turnIndex, cfg.Memory, log)

	interviewer := interview.NewEngine(cfg.Interview.MaxRounds)
	dispatcher := responders.NewDispatcher(
		responders.NewVisionResponder(provider, templates, cfg.AI.Provider.VisionModel),
		responders.NewProductResponder(provider, templates),
		responders.NewWriterResponder(provider, templates),
		interviewer,
		log,
	)

	summarizerSvc := summarizer.NewService(mysqlStore, provider, templates, log)

	coordinator := engine.NewCoordinator(
		cfg, mysqlStore, redisStore,
		classifier, det, retrieval, dispatcher, interviewer,
		turnIndex, summarizerSvc, log,
	)

	hub := web.NewChatHub(coordinator, log)
	go hub.Run()

	router := web.NewRouter(cfg, coordinator, hub, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}

	log.Info("server stopped")
}
