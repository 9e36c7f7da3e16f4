package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lmittmann/tint"
	"github.com/propstream/listing-scrape-worker/config"
	"github.com/propstream/listing-scrape-worker/internal/aws_s3"
	"github.com/propstream/listing-scrape-worker/internal/broker"
	cacheClient "github.com/propstream/listing-scrape-worker/internal/cache"
	"github.com/propstream/listing-scrape-worker/internal/enrich"
	"github.com/propstream/listing-scrape-worker/internal/extract"
	"github.com/propstream/listing-scrape-worker/internal/fetch"
	"github.com/propstream/listing-scrape-worker/internal/model"
	"github.com/propstream/listing-scrape-worker/internal/persistence"
	"github.com/propstream/listing-scrape-worker/internal/proxy"
	"github.com/propstream/listing-scrape-worker/internal/session"
	"github.com/propstream/listing-scrape-worker/internal/walker"
)

var (
	cfg          *config.Config
	log          *slog.Logger
	db           *sql.DB
	s3           aws_s3.BucketClient
	metadataRepo persistence.MetadataStorage
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg = config.MustLoad()
	log = setupLogger()
	db = setupDatabase()
	defer closeDatabase()
	s3 = aws_s3.NewS3BucketClient(cfg.S3Settings, log)
	metadataRepo = persistence.NewMetadataRepository(db, cfg.Version, log)
	var seen cacheClient.SeenClient
	if cfg.CacheSettings != nil && cfg.CacheSettings.Enabled {
		mc := cacheClient.NewMemcachedClient(cfg.CacheSettings, log)
		defer mc.Close()
		seen = mc
	}
	if cfg.FetchSettings == nil {
		cfg.FetchSettings = &config.FetchConfig{}
	}
	log.Info("starting "+cfg.ServiceName, slog.String("env", cfg.Env),
		slog.String("location", cfg.SearchSettings.Location),
		slog.String("category", cfg.SearchSettings.Category))

	emitChan := make(chan *model.Listing, 100)
	listingChan := make(chan *model.Listing, 100)

	kafkaWg := &sync.WaitGroup{}
	kafkaWg.Add(1)
	go broker.NewKafkaProducer(kafkaWg, listingChan, log, cfg.KafkaSettings.Producer)

	// Seeds: the config-derived ones first, then externally submitted search
	// tasks when the consumer topic is enabled.
	seedChan := make(chan walker.Seed, 10)
	taskChan := make(chan *model.SearchTask, 10)
	consumerEnabled := cfg.KafkaSettings.Consumer != nil && cfg.KafkaSettings.Consumer.Enabled
	if consumerEnabled {
		kafkaWg.Add(1)
		go broker.NewKafkaConsumer(ctx, kafkaWg, taskChan, log, cfg.KafkaSettings.Consumer)
	}
	go func() {
		defer close(seedChan)
		for _, seed := range walker.BuildSeeds(cfg) {
			select {
			case seedChan <- seed:
			case <-ctx.Done():
				return
			}
		}
		if !consumerEnabled {
			return
		}
		for task := range taskChan {
			select {
			case seedChan <- walker.SeedFromTask(cfg, task):
			case <-ctx.Done():
				return
			}
		}
	}()

	sess := session.New()
	proxies := proxy.NewRoundRobinSupplier(cfg.ProxySettings, log)
	plain := fetch.NewHTTPTransport(cfg.FetchSettings, log)
	var renderer fetch.Transport = plain
	if strings.ToLower(cfg.FetchSettings.Transport) == "browser" {
		renderer = fetch.NewBrowserTransport(cfg.FetchSettings, log)
	}
	fetcher := fetch.NewFetcher(cfg.FetchSettings, sess, renderer, plain, proxies, log)
	defer fetcher.Close()

	pageParam := ""
	if cfg.PortalSettings != nil {
		pageParam = cfg.PortalSettings.PageParam
	}
	extractor := extract.NewExtractor(pageParam)

	w := &walker.Walker{
		Fetcher:   fetcher,
		Extractor: extractor,
		Seen:      seen,
		Out:       emitChan,
		Cfg:       cfg,
		Log:       log,
	}
	if cfg.SearchSettings.IncludeDetails {
		w.Enricher = enrich.NewEnricher(fetcher, extractor, cfg.PortalSettings,
			cfg.FetchSettings.DetailRetryAttempts, log)
	}

	sinkWg := &sync.WaitGroup{}
	sinkWg.Add(1)
	go func() {
		defer sinkWg.Done()
		for listing := range emitChan {
			link := s3.WriteListing(listing) // Save the full record to S3
			metadataRepo.Save(listing, link) // Save metadata to database
			listingChan <- listing           // Send the listing to kafka producer
		}
	}()

	// Graceful shutdown.
	// 1. The walker returns on seed exhaustion, result cap or system call
	// 2. Close emitChan. Wait till the sink drains it
	// 3. Close listingChan. Wait till the producer writes everything to kafka
	w.Run(ctx, seedChan)
	log.Info("run finished.", slog.Int("emitted", w.Emitted()))
	stop()
	close(emitChan)
	sinkWg.Wait()
	log.Info("close emitChan.")
	close(listingChan)
	log.Info("close listingChan.")
	kafkaWg.Wait()
}

func setupLogger() *slog.Logger {
	resolvedLogLevel := func() slog.Level {
		envLogLevel := strings.ToLower(cfg.LogLevel)
		switch envLogLevel {
		case "info":
			return slog.LevelInfo
		case "error":
			return slog.LevelError
		default:
			return slog.LevelDebug
		}
	}

	replaceAttrs := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
		}
		return a
	}

	var logger *slog.Logger
	if strings.ToLower(cfg.LogType) == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource:   true,
			Level:       resolvedLogLevel(),
			ReplaceAttr: replaceAttrs}))
	} else {
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			AddSource:   true,
			Level:       resolvedLogLevel(),
			ReplaceAttr: replaceAttrs,
			NoColor:     false}))
	}

	slog.SetDefault(logger)
	logger.Debug("debug messages are enabled.")

	return logger
}

func setupDatabase() *sql.DB {
	log.Info("connecting to the database...")
	sqlCfg := mysql.Config{
		User:                 cfg.DbSettings.User,
		Passwd:               cfg.DbSettings.Password,
		Net:                  "tcp",
		Addr:                 fmt.Sprintf("%s:%s", cfg.DbSettings.Host, cfg.DbSettings.Port),
		DBName:               cfg.DbSettings.Name,
		AllowNativePasswords: true,
		ParseTime:            true,
	}
	database, err := sql.Open("mysql", sqlCfg.FormatDSN())
	if err != nil {
		log.Error("failed to establish database connection.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	database.SetConnMaxLifetime(cfg.DbSettings.ConnMaxLifetime)
	database.SetMaxOpenConns(cfg.DbSettings.MaxOpenConns)
	database.SetMaxIdleConns(cfg.DbSettings.MaxIdleConns)

	maxRetry := 6
	for i := 1; i <= maxRetry; i++ {
		log.Info("ping the database.", slog.String("attempt", fmt.Sprintf("%d/%d", i, maxRetry)))
		pingErr := database.Ping()
		if pingErr != nil {
			log.Error("not responding.", slog.String("err", pingErr.Error()))
			if i == maxRetry {
				log.Error("failed to establish database connection.")
				os.Exit(1)
			}
			log.Info(fmt.Sprintf("wait %d seconds", 5*i))
			time.Sleep(time.Duration(5*i) * time.Second)
		} else {
			break
		}
	}
	log.Info("connected to the database!")

	return database
}

func closeDatabase() {
	log.Info("closing database connection.")
	err := db.Close()
	if err != nil {
		log.Error("failed to close database connection.", slog.String("err", err.Error()))
	}
}
