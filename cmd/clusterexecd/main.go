// clusterexecd accepts commands over HTTP or Kafka, runs them on a bounded
// worker pool and keeps a JSON report for each of them.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/andrej220/clusterexec/internal/lg"
	"github.com/andrej220/clusterexec/internal/serverutil"
	"github.com/andrej220/clusterexec/pkg/config"
	"github.com/andrej220/clusterexec/pkg/consumer"
	"github.com/andrej220/clusterexec/pkg/executor"
	"github.com/andrej220/clusterexec/pkg/persistence"
	dm "github.com/andrej220/clusterexec/pkg/shared-models"
)

const (
	serviceName      = "clusterexecd"
	defaultReportDir = "reports"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CLUSTEREXECD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:          serviceName,
		Short:        "Serve command execution requests",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, v)
		},
	}
	f := cmd.Flags()
	f.StringP("config", "c", "clusterexecd.yaml", "Path to YAML settings file")
	f.String("store", "file", "Settings store (file|mongo)")
	f.String("mongo-uri", "mongodb://localhost:27017", "MongoDB URI for the mongo store")
	f.String("mongo-db", "clusterexec", "MongoDB database")
	f.String("mongo-collection", "settings", "MongoDB collection")
	f.String("mongo-id", serviceName, "Settings document id")
	for _, name := range []string{"config", "store", "mongo-uri", "mongo-db", "mongo-collection", "mongo-id"} {
		if err := v.BindPFlag(name, f.Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind %s flag: %v", name, err))
		}
	}
	return cmd
}

func openStore(v *viper.Viper) (config.Config, error) {
	switch v.GetString("store") {
	case "file":
		return config.NewStore(config.FileStore, &config.FileConfig{Path: v.GetString("config")})
	case "mongo":
		return config.NewStore(config.MongoStore, &config.MongoConfig{
			URI:      v.GetString("mongo-uri"),
			DBName:   v.GetString("mongo-db"),
			CollName: v.GetString("mongo-collection"),
			ID:       v.GetString("mongo-id"),
		})
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidStoreType, v.GetString("store"))
	}
}

func serve(ctx context.Context, v *viper.Viper) error {
	store, err := openStore(v)
	if err != nil {
		return err
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}
	settings, err := config.Load(store)
	if err != nil {
		return err
	}

	logger := lg.New(&lg.Config{ServiceName: serviceName, Debug: settings.Log.Debug, Format: settings.Log.Format})
	defer logger.Sync()
	ctx = lg.Attach(ctx, logger)
	logger.Info("Starting service", lg.String("installRoot", settings.InstallRoot), lg.Int("workers", settings.Workers))

	// changes to the file only move the install root, the rest needs a restart
	if err := store.Watch(func() {
		if s, err := config.Load(store); err != nil {
			logger.Warn("Ignoring settings change", lg.Err(err))
		} else {
			logger.Info("Settings reloaded", lg.String("installRoot", s.InstallRoot))
		}
	}); err != nil {
		logger.Warn("Settings are not watched", lg.Err(err))
	}

	reportDir := settings.ReportDir
	if reportDir == "" {
		reportDir = defaultReportDir
	}

	var publisher reportPublisher
	if len(settings.Kafka.Brokers) > 0 && settings.Kafka.ReportTopic != "" {
		producer, err := consumer.NewProducer[dm.Report](consumer.Config{Brokers: settings.Kafka.Brokers, Topic: settings.Kafka.ReportTopic})
		if err != nil {
			return err
		}
		defer producer.Close()
		publisher = producer
	}

	// the pool outlives ctx so running commands finish during shutdown
	poolCtx := lg.Attach(context.Background(), logger)
	resolver := executor.NewResolver(executor.WithRetryDelay(settings.RetryDelay))
	svc := newService(poolCtx, settings.Workers, resolver, persistence.NewReportStore(reportDir), publisher)
	defer svc.shutdown()

	if len(settings.Kafka.Brokers) > 0 {
		intake, err := consumer.NewConsumer[dm.Request](consumer.Config{
			Brokers: settings.Kafka.Brokers,
			Topic:   settings.Kafka.RequestTopic,
			GroupID: settings.Kafka.GroupID,
		})
		if err != nil {
			return err
		}
		defer intake.Close()
		go func() {
			if err := intake.Run(ctx, svc.consume); err != nil && ctx.Err() == nil {
				logger.Error("Request intake stopped", lg.Err(err))
			}
		}()
		logger.Info("Consuming requests", lg.Strings("brokers", settings.Kafka.Brokers), lg.String("topic", settings.Kafka.RequestTopic))
	}

	srvCfg := serverutil.DefaultServerConfig()
	srvCfg.Logger = logger
	if settings.Server.Port != "" {
		srvCfg.Port = settings.Server.Port
	}
	return serverutil.RunServer(ctx, svc.routes(), srvCfg)
}
