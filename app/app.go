package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dposnet/dposd/infrastructure/config"
	"github.com/dposnet/dposd/infrastructure/db/database"
	"github.com/dposnet/dposd/infrastructure/db/database/ldb"
	"github.com/dposnet/dposd/infrastructure/logger"
	"github.com/dposnet/dposd/infrastructure/os/signal"
	"github.com/dposnet/dposd/infrastructure/os/winservice"
	"github.com/dposnet/dposd/util/panics"
	"github.com/dposnet/dposd/util/profiling"
	"github.com/dposnet/dposd/version"
	"github.com/pkg/errors"
)

const databaseDirname = "database"

var serviceDescription = &winservice.ServiceDescription{
	Name:        "dposdsvc",
	DisplayName: "Dposd Service",
	Description: "Downloads and stays synchronized with the dposd chain and " +
		"forges the blocks of its delegates.",
}

type dposdApp struct {
	cfg *config.Config
}

// StartApp starts the dposd app, and blocks until it finishes running
func StartApp() error {
	defer panics.HandlePanic(log, "MAIN", nil)

	// Load configuration and parse command line. This function also
	// initializes logging and configures it accordingly.
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	defer logger.BackendLog.Close()

	app := &dposdApp{cfg: cfg}

	// Call serviceMain on Windows to handle running as a service. When
	// the return isService flag is true, exit now since we ran as a
	// service. Otherwise, just fall through to normal operation.
	isService, err := winservice.WinServiceMain(app.main, serviceDescription, cfg)
	if err != nil {
		return err
	}
	if isService {
		return nil
	}

	return app.main(nil)
}

func (app *dposdApp) main(startedChan chan<- struct{}) error {
	// Get a channel that will be closed when a shutdown signal has been
	// triggered either from an OS signal such as SIGINT (Ctrl+C) or from
	// another subsystem such as the windows service.
	interrupt := signal.InterruptListener()
	defer log.Info("Shutdown complete")

	// Show version at startup.
	log.Infof("Version %s", version.Version())

	// Enable http profiling server if requested.
	if app.cfg.Profile != "" {
		profiling.Start(app.cfg.Profile, log)
	}

	// Return now if an interrupt signal was triggered.
	if signal.InterruptRequested(interrupt) {
		return nil
	}

	if app.cfg.ResetDatabase {
		err := removeDatabase(app.cfg)
		if err != nil {
			log.Errorf("%+v", err)
			return err
		}
	}

	// Open the database
	db, err := openDB(app.cfg)
	if err != nil {
		log.Errorf("Loading database failed: %+v", err)
		return err
	}

	defer func() {
		log.Infof("Gracefully shutting down the database...")
		err := db.Close()
		if err != nil {
			log.Errorf("Failed to close the database: %s", err)
		}
	}()

	// Return now if an interrupt signal was triggered.
	if signal.InterruptRequested(interrupt) {
		return nil
	}

	// Create componentManager and start it.
	componentManager, err := NewComponentManager(app.cfg, db)
	if err != nil {
		log.Errorf("Unable to start dposd: %+v", err)
		return err
	}

	defer func() {
		log.Infof("Gracefully shutting down dposd...")
		componentManager.Stop()
		log.Infof("Dposd shutdown complete")
	}()

	componentManager.Start()

	if startedChan != nil {
		startedChan <- struct{}{}
	}

	// Wait until the interrupt signal is received from an OS signal or
	// shutdown is requested through one of the subsystems such as the
	// windows service.
	<-interrupt
	return nil
}

// databasePath returns the path to the ledger database
func databasePath(cfg *config.Config) string {
	return filepath.Join(cfg.AppDir, databaseDirname)
}

func removeDatabase(cfg *config.Config) error {
	dbPath := databasePath(cfg)
	log.Infof("Removing the database at %s", dbPath)
	return errors.WithStack(os.RemoveAll(dbPath))
}

func openDB(cfg *config.Config) (database.Database, error) {
	dbPath := databasePath(cfg)

	versionFileExists, err := checkDatabaseVersion(dbPath)
	if err != nil {
		return nil, err
	}

	log.Infof("Loading database from '%s'", dbPath)
	db, err := ldb.NewLevelDB(dbPath)
	if err != nil {
		return nil, err
	}

	if !versionFileExists {
		err = createDatabaseVersionFile(dbPath)
		if err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}
