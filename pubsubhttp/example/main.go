// Sample app serving the pubsubhttp surface. Point it at a real project
// via PUBSUB_PROJECT_ID, or at an emulator with PUBSUB_EMULATOR_HOST.
package main

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/polarisops/gcp-common/observability/metrics"
	"github.com/polarisops/gcp-common/pubsub"
	"github.com/polarisops/gcp-common/pubsub/driver/google"
	"github.com/polarisops/gcp-common/pubsubhttp"
	"github.com/polarisops/gcp-common/util"
	"github.com/polarisops/gcp-common/web"
	"github.com/polarisops/gcp-common/web/middleware"
)

func main() {
	lg, cleanup := util.NewLogger()
	defer cleanup()

	cfg, err := pubsubhttp.LoadConfig()
	if err != nil {
		lg.Fatal("fail to load config", zap.Error(err))
	}

	ctx := context.Background()

	brokerCfg := google.Config{
		ProjectID: cfg.ProjectID,
		Logger:    pubsub.NewZapLogger(lg),
	}
	if cfg.EmulatorHost != "" {
		conn, err := grpc.NewClient(cfg.EmulatorHost, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			lg.Fatal("fail to dial emulator", zap.Error(err))
		}
		defer conn.Close()
		brokerCfg.Options = append(brokerCfg.Options, option.WithGRPCConn(conn))
	}

	broker, err := google.New(ctx, brokerCfg)
	if err != nil {
		lg.Fatal("fail to create pubsub broker", zap.Error(err))
	}

	clientOpts := []pubsub.Option{
		pubsub.WithLogger(pubsub.NewZapLogger(lg)),
		pubsub.WithPullBatchSize(cfg.PullBatchSize),
	}
	if cfg.OTLPEndpoint != "" {
		exporter, err := metrics.NewMetricExporter(
			metrics.WithServiceName("pubsubhttp"),
			metrics.WithOTLPEndpoint(cfg.OTLPEndpoint),
		)
		if err != nil {
			lg.Fatal("fail to create metric exporter", zap.Error(err))
		}
		defer exporter.Close(ctx)
		hooks, err := exporter.PubsubHooks()
		if err != nil {
			lg.Fatal("fail to build pubsub hooks", zap.Error(err))
		}
		clientOpts = append(clientOpts, pubsub.WithHooks(hooks))
	}

	client, err := pubsub.New(ctx, broker, clientOpts...)
	if err != nil {
		lg.Fatal("fail to create pubsub client", zap.Error(err))
	}
	defer client.Shutdown(ctx)

	handlers := pubsubhttp.NewHandlers(client, lg)
	defer handlers.Stop(ctx)

	web.StartServer(lg,
		web.WithPort(cfg.Port),
		web.WithRoutes(func(r *gin.Engine) {
			r.Use(middleware.CorrelationIdMiddleware())
			r.Use(middleware.LoggingMiddleware(middleware.WithLogger(lg)))
			handlers.Register(r)
		}),
	)
}
