package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danthegoodman1/icelake/crdb"
	"github.com/danthegoodman1/icelake/datastore"
	"github.com/danthegoodman1/icelake/gologger"
	"github.com/danthegoodman1/icelake/http_server"
	"github.com/danthegoodman1/icelake/lake"
	"github.com/danthegoodman1/icelake/metastore"
	"github.com/danthegoodman1/icelake/migrations"
	"github.com/danthegoodman1/icelake/utils"
)

var logger = gologger.NewLogger()

func main() {
	logger.Debug().Msg("starting icelake api")

	if err := crdb.ConnectToDB(); err != nil {
		logger.Error().Err(err).Msg("error connecting to CRDB")
		os.Exit(1)
	}

	err := migrations.CheckMigrations(utils.CRDB_DSN)
	if err != nil {
		logger.Error().Err(err).Msg("Error checking migrations")
		os.Exit(1)
	}

	metaStore, err := metastore.NewCRDBMetaStore(crdb.PGPool)
	if err != nil {
		logger.Error().Err(err).Msg("error creating metastore")
		os.Exit(1)
	}

	var dataStore datastore.DataStore
	if utils.S3_BUCKET_NAME != "" {
		dataStore, err = datastore.NewS3DataStore(utils.S3_BUCKET_NAME)
	} else {
		dataStore, err = datastore.NewDiskDataStore(utils.DATA_DIR)
	}
	if err != nil {
		logger.Error().Err(err).Msg("error creating datastore")
		os.Exit(1)
	}

	l, err := lake.New(metaStore, dataStore)
	if err != nil {
		logger.Error().Err(err).Msg("error creating lake")
		os.Exit(1)
	}

	httpServer := http_server.StartHTTPServer(l)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	logger.Warn().Msg("received shutdown signal!")

	// For AWS ALB needing some time to de-register pod
	// Convert the time to seconds
	sleepTime := utils.GetEnvOrDefaultInt("SHUTDOWN_SLEEP_SEC", 0)
	logger.Info().Msg(fmt.Sprintf("sleeping for %ds before exiting", sleepTime))

	time.Sleep(time.Second * time.Duration(sleepTime))
	logger.Info().Msg(fmt.Sprintf("slept for %ds, exiting", sleepTime))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown HTTP server")
	} else {
		logger.Info().Msg("successfully shutdown HTTP server")
	}

	if err := metaStore.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown metastore")
	}
	if err := dataStore.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown datastore")
	}
}
