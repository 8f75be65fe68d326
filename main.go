package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"evcsms/internal"
	"evcsms/internal/config"
	"evcsms/metrics"
	"evcsms/server"
)

func main() {
	configPath := flag.String("conf", "config.yml", "path to config file")
	flag.Parse()

	conf, err := config.GetConfig(*configPath)
	if err != nil {
		log.Println("configuration load failed", err)
		return
	}

	logger := internal.NewLogger(conf.Location())
	logger.SetDebugMode(conf.IsDebug)

	var database internal.Database = internal.NewMemoryDB()
	if conf.Mongo.Enabled {
		mongo, err := internal.NewMongoClient(conf)
		if err != nil {
			log.Println("mongo client initialization failed", err)
			return
		}
		logger.SetDatabase(mongo)
		database = mongo
		logger.Debug("mongo client is configured and enabled")
	} else {
		logger.Warn("mongo is disabled, state is kept in memory only")
	}

	centralSystem, err := server.NewCentralSystem(conf, database, logger)
	if err != nil {
		log.Println("central system initialization failed", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := metrics.Listen(ctx, conf, logger); err != nil {
			logger.Error("metrics server", err)
		}
	}()
	if err = centralSystem.Start(ctx); err != nil {
		log.Println("central system stopped", err)
		os.Exit(1)
	}
}
