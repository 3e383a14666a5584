package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/shivam349/codex1/internal/aws"
	"github.com/shivam349/codex1/internal/blob"
	"github.com/shivam349/codex1/internal/catalog"
	"github.com/shivam349/codex1/internal/config"
	"github.com/shivam349/codex1/internal/handlers"
	"github.com/shivam349/codex1/internal/idempotency"
	"github.com/shivam349/codex1/internal/identity"
	"github.com/shivam349/codex1/internal/logging"
	"github.com/shivam349/codex1/internal/metrics"
	"github.com/shivam349/codex1/internal/notify"
	"github.com/shivam349/codex1/internal/orders"
	"github.com/shivam349/codex1/internal/users"
)

func main() {
	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.Env)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		logger.WithError(err).Fatal("failed to init aws clients")
	}

	r, cw := setupRouter(cfg, clients, logger)

	// if RUN_LOCAL is set, run a local HTTP server for development.
	if cfg.RunLocal {
		addr := ":" + cfg.Port
		logger.WithField("addr", addr).Info("running local server")
		if err := r.Run(addr); err != nil {
			logger.WithError(err).Fatal("failed to run local server")
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		resp, err := adapter.ProxyWithContext(ctx, req)
		// the execution environment may freeze once we return
		cw.Flush()
		return resp, err
	})
}

// setupRouter wires the stores and services behind the HTTP facade.
func setupRouter(cfg config.Config, clients *aws.AWSClients, logger *logrus.Logger) (*gin.Engine, *metrics.CloudWatchRecorder) {
	prom := metrics.New(cfg.MetricsNamespace)
	cw := metrics.NewCloudWatchRecorder(clients.CloudWatch, cfg.MetricsNamespace, logger)

	productStore := catalog.NewStore(clients.DynamoDB, cfg.ProductsTable)
	orderSvc := orders.NewService(
		orders.NewStore(clients.DynamoDB, cfg.OrdersTable),
		productStore,
		orders.Options{EnforceStock: cfg.EnforceStock, TrustClientTotal: cfg.TrustClientTotal},
		logger,
	).WithRecorder(metrics.Fanout{prom, cw})

	userStore := users.NewStore(clients.DynamoDB, cfg.UsersTable)
	gate := identity.NewJWTGate(cfg.JWTSecret, userStore)

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.NotificationsQueueURL != "" {
		notifier = notify.NewSQSNotifier(aws.NewPublisher(clients.SQS, cfg.NotificationsQueueURL))
	} else {
		logger.Warn("NOTIFICATIONS_QUEUE_URL not set; verification e-mails are only logged")
	}

	identitySvc := identity.NewService(userStore, gate, notifier, identity.Settings{
		TokenTTL:        cfg.TokenTTL,
		VerificationTTL: cfg.VerificationTTL,
		FrontendURL:     cfg.FrontendURL,
	}, logger)

	var images handlers.ImageStore
	if cfg.UploadsBucket != "" {
		images = blob.NewS3Store(clients.S3, cfg.UploadsBucket, cfg.UploadsPublicBaseURL)
	}

	origins := cfg.CORSAllowedOrigins
	if len(origins) == 0 && cfg.FrontendURL != "" {
		origins = []string{cfg.FrontendURL}
	}

	r := handlers.NewRouter(handlers.Deps{
		Catalog:     productStore,
		Orders:      orderSvc,
		Identity:    identitySvc,
		Gate:        gate,
		Idempotency: idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL).WithLease(cfg.IdempotencyLease),
		Images:      images,
		Metrics:     prom,
		Log:         logger,
		Options: handlers.Options{
			Production:          cfg.IsProduction(),
			AllowedOrigins:      origins,
			RateLimitRPS:        cfg.RateLimitRPS,
			RateLimitBurst:      cfg.RateLimitBurst,
			MaxUploadBytes:      cfg.MaxUploadBytes,
			ProductsCacheMaxAge: cfg.ProductsCacheMaxAge,
		},
	})
	return r, cw
}
