package app

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/dposnet/dposd/domain/chainconfig"
	"github.com/dposnet/dposd/infrastructure/config"
)

func TestCheckDatabaseVersion(t *testing.T) {
	dbPath := t.TempDir()

	exists, err := checkDatabaseVersion(dbPath)
	if err != nil || exists {
		t.Fatalf("TestCheckDatabaseVersion: new database: exists %t, error %v", exists, err)
	}

	err = createDatabaseVersionFile(dbPath)
	if err != nil {
		t.Fatalf("TestCheckDatabaseVersion: createDatabaseVersionFile unexpectedly failed: %s", err)
	}
	exists, err = checkDatabaseVersion(dbPath)
	if err != nil || !exists {
		t.Fatalf("TestCheckDatabaseVersion: versioned database: exists %t, error %v", exists, err)
	}

	err = ioutil.WriteFile(filepath.Join(dbPath, versionFileName), []byte("2"), 0600)
	if err != nil {
		t.Fatalf("TestCheckDatabaseVersion: failed overwriting the version file: %s", err)
	}
	_, err = checkDatabaseVersion(dbPath)
	if err == nil {
		t.Fatalf("TestCheckDatabaseVersion: a database of another version was accepted")
	}
}

func testConfig(t *testing.T) *config.Config {
	cfg := &config.Config{
		Flags: &config.Flags{
			AppDir:         t.TempDir(),
			NoListen:       true,
			MaxSharedTxs:   7,
			ServiceOptions: &config.ServiceOptions{},
			NetworkFlags:   config.NetworkFlags{Devnet: true},
		},
	}
	err := cfg.ResolveNetwork(nil)
	if err != nil {
		t.Fatalf("ResolveNetwork unexpectedly failed: %s", err)
	}
	return cfg
}

func TestComponentManager(t *testing.T) {
	cfg := testConfig(t)

	db, err := openDB(cfg)
	if err != nil {
		t.Fatalf("TestComponentManager: openDB unexpectedly failed: %+v", err)
	}
	defer db.Close()

	componentManager, err := NewComponentManager(cfg, db)
	if err != nil {
		t.Fatalf("TestComponentManager: NewComponentManager unexpectedly failed: %+v", err)
	}
	d := componentManager.Domain()
	if d.Params().Name != chainconfig.DevnetParams.Name {
		t.Fatalf("TestComponentManager: running on %s, want devnet", d.Params().Name)
	}
	if d.Chain().LastBlock().Height != 1 {
		t.Fatalf("TestComponentManager: last block at height %d, want the genesis block",
			d.Chain().LastBlock().Height)
	}

	componentManager.Start()
	componentManager.Stop()
	// A second stop is a no-op.
	componentManager.Stop()

	if !d.Chain().IsCleaning() {
		t.Fatalf("TestComponentManager: Stop did not drain block processing")
	}
}

func TestRemoveDatabase(t *testing.T) {
	cfg := testConfig(t)

	db, err := openDB(cfg)
	if err != nil {
		t.Fatalf("TestRemoveDatabase: openDB unexpectedly failed: %+v", err)
	}
	err = db.Close()
	if err != nil {
		t.Fatalf("TestRemoveDatabase: Close unexpectedly failed: %s", err)
	}

	err = removeDatabase(cfg)
	if err != nil {
		t.Fatalf("TestRemoveDatabase: removeDatabase unexpectedly failed: %s", err)
	}
	exists, err := checkDatabaseVersion(databasePath(cfg))
	if err != nil || exists {
		t.Fatalf("TestRemoveDatabase: database survived removal: exists %t, error %v", exists, err)
	}
}
