package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"Retoucher/ai"
	"Retoucher/api"
	"Retoucher/assistant"
	"Retoucher/bot"
	"Retoucher/core"
	"Retoucher/holder"
	"Retoucher/lib/sl"
	"Retoucher/media"
	"Retoucher/storage"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {

	configPath := flag.String("conf", "config.yml", "path to config file")
	flag.Parse()

	conf := core.MustLoad(*configPath)
	log := setupLogger(conf.Env)
	log.With(
		slog.String("config", *configPath),
		slog.String("env", conf.Env),
		slog.String("model", conf.OpenRouter.Model),
		slog.String("fallback", conf.OpenAI.Model),
	).Info("starting retoucher")

	var mongoClient *mongo.Client
	if conf.Sessions.Driver == core.DriverMongo || conf.Credits.Driver == core.DriverMongo {
		client, err := storage.ConnectMongo(conf.MongoURI())
		if err != nil {
			log.With(
				slog.String("db", conf.Mongo.Database),
				slog.String("user", conf.Mongo.User),
				slog.String("host", conf.Mongo.Host),
			).Error("falling back to memory", sl.Err(err))
		} else {
			mongoClient = client
		}
	}

	sessionStore := newSessionStorage(conf, mongoClient, log)
	creditStore, err := newCreditStorage(conf, mongoClient, log)
	if err != nil {
		log.Error("creating credit storage", sl.Err(err))
		return
	}

	uploader, err := media.NewS3Uploader(context.Background(), media.S3Options{
		Bucket:        conf.S3.Bucket,
		Region:        conf.S3.Region,
		Endpoint:      conf.S3.Endpoint,
		AccessKey:     conf.S3.AccessKey,
		SecretKey:     conf.S3.SecretKey,
		Prefix:        conf.S3.Prefix,
		PublicBaseUrl: conf.S3.PublicBaseUrl,
	}, log)
	if err != nil {
		log.Error("creating s3 uploader", sl.Err(err))
		return
	}

	sessions := holder.NewSessionManager(sessionStore, log)
	pipeline := assistant.NewPipeline(sessions, newCollaborators(conf, uploader, creditStore, log), conf.Edit.RetryDelay, log)

	var tgBot *bot.TgBot
	if conf.Telegram.Enabled {
		tgBot, err = bot.NewTgBot(conf, log)
		if err != nil {
			log.Error("creating telegram", sl.Err(err))
			return
		}
		tgBot.SetAssistant(pipeline)
		go func() {
			if err := tgBot.Start(); err != nil {
				log.Error("bot stopped with error", sl.Err(err))
			}
		}()
		log.Info("bot started")
	}

	var server *api.Server
	if conf.Http.Enabled {
		server = api.NewServer(conf.Http.Listen, pipeline, log)
		go func() {
			if err := server.Start(); err != nil {
				log.Error("http server stopped with error", sl.Err(err))
			}
		}()
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("received signal, shutting down", slog.String("signal", sig.String()))

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := server.Shutdown(ctx); err != nil {
			log.Error("shutting down http server", sl.Err(err))
		}
		cancel()
	}
	if tgBot != nil {
		tgBot.Stop()
	}
	sessions.Shutdown()

	if err := creditStore.Close(); err != nil {
		log.Error("closing credit storage", sl.Err(err))
	}
	// the mongo session store owns the shared client, close it last
	if err := sessionStore.Close(); err != nil {
		log.Error("closing session storage", sl.Err(err))
	}
	if _, owned := sessionStore.(*storage.MongoStorage); mongoClient != nil && !owned {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := mongoClient.Disconnect(ctx); err != nil {
			log.Error("disconnecting MongoDB", sl.Err(err))
		}
		cancel()
	}

	log.Info("shutdown complete")
}

func newSessionStorage(conf *core.Config, client *mongo.Client, log *slog.Logger) storage.SessionStorage {
	if conf.Sessions.Driver == core.DriverMongo && client != nil {
		store, err := storage.NewMongoStorage(client, conf.Mongo.Database, log)
		if err == nil {
			log.Info("using MongoDB session storage")
			return store
		}
		log.Error("falling back to memory sessions", sl.Err(err))
	}
	log.Info("using in-memory session storage")
	return storage.NewMemoryStorage()
}

func newCreditStorage(conf *core.Config, client *mongo.Client, log *slog.Logger) (storage.CreditStorage, error) {
	switch conf.Credits.Driver {
	case core.DriverSQLite:
		log.Info("using sqlite credit ledger", slog.String("path", conf.Credits.SQLitePath))
		return storage.NewSQLiteCreditStorage(conf.Credits.SQLitePath, conf.Credits.Initial)
	case core.DriverMongo:
		if client != nil {
			store, err := storage.NewMongoCreditStorage(client, conf.Mongo.Database, conf.Credits.Initial, log)
			if err == nil {
				log.Info("using MongoDB credit storage")
				return store, nil
			}
			log.Error("falling back to memory credits", sl.Err(err))
		}
	}
	log.Info("using in-memory credit storage")
	return storage.NewMemoryCreditStorage(conf.Credits.Initial), nil
}

func newCollaborators(conf *core.Config, uploader *media.S3Uploader, credits storage.CreditStorage, log *slog.Logger) assistant.Collaborators {
	openRouter := func(temperature float64, maxTokens int) *ai.CompletionClient {
		headers := map[string]string{"X-Title": conf.OpenRouter.Title}
		if conf.OpenRouter.Referer != "" {
			headers["HTTP-Referer"] = conf.OpenRouter.Referer
		}
		return ai.NewCompletionClient(ai.ClientOptions{
			Name:        "openrouter",
			BaseUrl:     conf.OpenRouter.BaseUrl,
			ApiKey:      conf.OpenRouter.ApiKey,
			Model:       conf.OpenRouter.Model,
			MaxTokens:   maxTokens,
			Temperature: temperature,
			Headers:     headers,
		}, log)
	}
	openAI := func(model string, temperature float64, maxTokens int) *ai.CompletionClient {
		return ai.NewCompletionClient(ai.ClientOptions{
			Name:        "openai",
			BaseUrl:     conf.OpenAI.BaseUrl,
			ApiKey:      conf.OpenAI.ApiKey,
			Model:       model,
			MaxTokens:   maxTokens,
			Temperature: temperature,
		}, log)
	}

	return assistant.Collaborators{
		Classifier:  ai.NewIntentClassifier(openAI(conf.OpenAI.Model, 0, 10), log),
		Synthesizer: ai.NewPromptSynthesizer(openAI(conf.OpenAI.Model, 0.3, 300), log),
		Responder: ai.NewResponder(
			ai.NewRedirectingProvider(openRouter(0.7, 600)),
			openAI(conf.OpenAI.Model, 0.7, 800),
			log,
		),
		Analyzer: ai.NewVisionClient(openAI(conf.OpenAI.VisionModel, 0.2, 800)),
		Generator: ai.NewReplicateGenerator(ai.GeneratorOptions{
			BaseUrl:      conf.Replicate.BaseUrl,
			ApiToken:     conf.Replicate.ApiToken,
			Version:      conf.Replicate.Version,
			Steps:        conf.Replicate.Steps,
			Guidance:     conf.Replicate.Guidance,
			PollInterval: conf.Replicate.PollInterval,
			Timeout:      conf.Replicate.Timeout,
		}, log),
		Uploader: uploader,
		Credits:  credits,
	}
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal, envDev:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
