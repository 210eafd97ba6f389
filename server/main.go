package main

import (
	"context"
	"net/http"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/stripe/stripe-go/v82"

	"imageforge/billing"
	"imageforge/config"
	"imageforge/database"
	"imageforge/handlers"
	"imageforge/logger"
	middleware "imageforge/middlewares"
	"imageforge/openai"
	"imageforge/quota"
	"imageforge/repository"
	"imageforge/routes"
	"imageforge/storage"
	"imageforge/utils"
)

func main() {
	// Missing .env is fine in containers; config comes from the
	// environment either way.
	_ = godotenv.Load(".env")

	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("error closing database connection")
		}
	}()

	if err := database.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid redis URL")
	}
	redisClient := redis.NewClient(redisOpts)

	stripe.Key = cfg.StripeKey

	userRepo := repository.NewUserRepo(db)
	subRepo := repository.NewSubscriptionRepo(db)
	imageRepo := repository.NewImageRepo(db)
	eventRepo := repository.NewBillingEventRepo(db)

	var archiver *storage.Archiver
	if cfg.S3Enabled() {
		sess := session.Must(session.NewSession(&aws.Config{
			Region:      aws.String(cfg.AWSRegion),
			Credentials: credentials.NewStaticCredentials(cfg.AWSAccessKey, cfg.AWSSecretKey, ""),
		}))
		archiver = storage.NewArchiver(s3manager.NewUploader(sess), s3.New(sess), cfg.AWSBucket)
	} else {
		log.Warn().Msg("S3 is not configured, generated images will not be archived")
	}

	ledger := &quota.Ledger{Users: userRepo}
	gate := &quota.Gate{
		Ledger:    ledger,
		Users:     userRepo,
		Images:    imageRepo,
		Generator: openai.NewClient(cfg.OpenAIKey, cfg.OpenAIBaseURL),
		Log:       log,
	}
	if archiver != nil {
		gate.Archiver = archiver
	}

	plans := billing.NewPlanCatalog(cfg.StripeProPriceID, cfg.StripeBizPriceID, cfg.FreeTierMaxImages)
	reconciler := &billing.Reconciler{
		Users:  userRepo,
		Subs:   subRepo,
		Ledger: ledger,
		Plans:  plans,
		Log:    log,
	}

	authMw := &middleware.Auth{
		RedisClient:       redisClient,
		AccessTokenSecret: []byte(cfg.AccessTokenSecret),
		Log:               log,
	}

	userHandler := &handlers.UserHandler{
		Users:              userRepo,
		RedisClient:        redisClient,
		AccessTokenSecret:  []byte(cfg.AccessTokenSecret),
		RefreshTokenSecret: []byte(cfg.RefreshTokenSecret),
		Log:                log,
	}
	imageHandler := &handlers.ImageHandler{
		Gate:     gate,
		Images:   imageRepo,
		Validate: validator.New(),
		Log:      log,
	}
	stripeHandler := &handlers.StripeHandler{
		Users:         userRepo,
		Subs:          subRepo,
		Events:        eventRepo,
		Reconciler:    reconciler,
		Plans:         plans,
		WebhookSecret: cfg.StripeWebhookSecret,
		FrontendURL:   cfg.FrontendURL,
		Log:           log,
	}

	go storage.StartPurgeLoop(context.Background(), imageRepo, archiver, log)

	mux := http.NewServeMux()
	routes.RegisterUserRoutes(mux, userHandler, authMw)
	routes.RegisterImageRoutes(mux, imageHandler, authMw, redisClient)
	routes.RegisterStripeRoutes(mux, stripeHandler, authMw)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondError(w, http.StatusNotFound, "This route does not exist")
	})

	corsMw := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.FrontendURL},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           86400,
	})

	handler := corsMw.Handler(
		middleware.SetCommonHeaders(
			middleware.GlobalRateLimiter(redisClient)(mux),
		),
	)

	log.Info().Str("port", cfg.Port).Msg("server is running")
	if err := http.ListenAndServe(":"+cfg.Port, handler); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
