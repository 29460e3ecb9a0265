// Package config loads the daemon's settings in three layers: compiled-in
// defaults, an optional TOML file, then CLI flags, each overriding the
// last, using pflag for the flag layer and BurntSushi/toml for the file
// layer.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
)

// Config is every operator-tunable setting the daemon needs, spanning the
// Coordinator's own knobs and the ambient service shell around it.
type Config struct {
	// Identity
	SysID    uint64 `toml:"sysid"`
	Timeline uint32 `toml:"timeline"`
	DBID     uint32 `toml:"dbid"`

	// Coordinator knobs
	PermitDDLLocking bool   `toml:"permit_ddl_locking"`
	DDLGraceTimeoutMS int   `toml:"ddl_grace_timeout_ms"`
	MaxDatabases      int   `toml:"max_databases"`

	// Transport / persistence
	PostgresDSN string `toml:"postgres_dsn"`
	SlotName    string `toml:"slot_name"`
	Publication string `toml:"publication"`

	// Admin surface
	ListenAddr string `toml:"listen_addr"`

	// Peers, as "sysid/timeline/dbid=host:port" entries; parsed by the
	// daemon rather than here so config stays a plain data holder.
	Peers []string `toml:"peers"`
}

// Defaults gives every field a sane starting value so a freshly unpacked
// binary can do something useful on a single local node with no
// configuration at all.
func Defaults() Config {
	return Config{
		Timeline:          1,
		PermitDDLLocking:  false,
		DDLGraceTimeoutMS: 10000,
		MaxDatabases:      16,
		SlotName:          "ddlock",
		Publication:       "ddlock",
		ListenAddr:        ":8080",
	}
}

// GraceTimeout converts the millisecond config field to a time.Duration
// for the coordinator.Config it feeds.
func (c Config) GraceTimeout() time.Duration {
	return time.Duration(c.DDLGraceTimeoutMS) * time.Millisecond
}

// Load builds a Config by layering Defaults(), then path (if non-empty
// and present), then flags registered on fs (already parsed by the
// caller). Passing a nil fs skips the flag layer, useful for tests.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, err
			}
		}
	}

	if fs == nil {
		return cfg, nil
	}

	if fs.Changed("sysid") {
		cfg.SysID, _ = fs.GetUint64("sysid")
	}
	if fs.Changed("timeline") {
		tl, _ := fs.GetUint32("timeline")
		cfg.Timeline = tl
	}
	if fs.Changed("dbid") {
		db, _ := fs.GetUint32("dbid")
		cfg.DBID = db
	}
	if fs.Changed("permit-ddl-locking") {
		cfg.PermitDDLLocking, _ = fs.GetBool("permit-ddl-locking")
	}
	if fs.Changed("ddl-grace-timeout-ms") {
		cfg.DDLGraceTimeoutMS, _ = fs.GetInt("ddl-grace-timeout-ms")
	}
	if fs.Changed("max-databases") {
		cfg.MaxDatabases, _ = fs.GetInt("max-databases")
	}
	if fs.Changed("postgres-dsn") {
		cfg.PostgresDSN, _ = fs.GetString("postgres-dsn")
	}
	if fs.Changed("slot-name") {
		cfg.SlotName, _ = fs.GetString("slot-name")
	}
	if fs.Changed("publication") {
		cfg.Publication, _ = fs.GetString("publication")
	}
	if fs.Changed("listen-addr") {
		cfg.ListenAddr, _ = fs.GetString("listen-addr")
	}
	if fs.Changed("peers") {
		cfg.Peers, _ = fs.GetStringSlice("peers")
	}

	return cfg, nil
}

// RegisterFlags adds every layered field to fs with defaults, so
// fs.Changed can later tell Load which ones the operator actually set.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.Uint64("sysid", d.SysID, "this node's system identifier")
	fs.Uint32("timeline", d.Timeline, "this node's timeline")
	fs.Uint32("dbid", d.DBID, "this node's local database oid")
	fs.Bool("permit-ddl-locking", d.PermitDDLLocking, "allow acquire() to run at all")
	fs.Int("ddl-grace-timeout-ms", d.DDLGraceTimeoutMS, "grace period before cancelling a conflicting writer")
	fs.Int("max-databases", d.MaxDatabases, "number of shared lock-state slots")
	fs.String("postgres-dsn", d.PostgresDSN, "Postgres connection string for the journal and replication transport")
	fs.String("slot-name", d.SlotName, "logical replication slot name")
	fs.String("publication", d.Publication, "logical replication publication name")
	fs.String("listen-addr", d.ListenAddr, "admin HTTP listen address")
	fs.StringSlice("peers", d.Peers, "peer list as sysid/timeline/dbid=host:port")
}
