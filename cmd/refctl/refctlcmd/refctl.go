// Package refctlcmd implements the sub-commands of refctl, a tool for
// loading, resolving and deleting the token references of resources.
package refctlcmd

import (
	"context"
	"database/sql"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/olekukonko/tablewriter"
	mbp "go.refcache.dev/core/mainboilerplate"
	"go.refcache.dev/core/refcache"
	"go.refcache.dev/core/refdao"
)

const iniFilename = "refctl.ini"

var (
	baseCfg = new(struct {
		Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
		Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
		Database    mbp.DatabaseConfig    `group:"Database" namespace:"database" env-namespace:"DATABASE"`
		Cache       mbp.CacheConfig       `group:"Cache" namespace:"cache" env-namespace:"CACHE"`
		Writer      mbp.WriterConfig      `group:"Writer" namespace:"writer" env-namespace:"WRITER"`
	})

	// CommandRegistry of refctl sub-commands, populated by init() functions.
	CommandRegistry = mbp.NewCommandRegistry()
)

// env is the runtime environment of a sub-command.
type env struct {
	ctx   context.Context
	db    *sql.DB
	cache *refcache.Cache
	cfg   refdao.Config
}

// startup initializes logging and opens the database. Callers must first
// defer the recovery closure of mbp.InitDiagnosticsAndRecover.
func startup() *env {
	mbp.InitLog(baseCfg.Log)

	var ctx = context.Background()
	var db, d = baseCfg.Database.MustOpen(ctx)

	return &env{
		ctx:   ctx,
		db:    db,
		cache: baseCfg.Cache.BuildCache(),
		cfg:   baseCfg.Writer.DAOConfig(d, baseCfg.Database.Schema),
	}
}

func (e *env) transact(fn func(*refdao.DAO) error) error {
	return refdao.Transact(e.ctx, e.db, e.cache, e.cfg, fn)
}

func newTable(headers ...string) *tablewriter.Table {
	var table = tablewriter.NewWriter(os.Stdout)
	table.Header(headers)
	return table
}

// Execute parses configuration and runs the selected sub-command.
func Execute() {
	var parser = flags.NewParser(baseCfg, flags.Default)

	mbp.AddPrintConfigCmd(parser, iniFilename)
	parser.LongDescription = `refctl is a tool for loading, resolving and deleting token references.

	See --help pages of each sub-command for documentation and usage examples.
	Optionally configure refctl with a '` + iniFilename + `' file in the current working directory,
	or with '~/.config/refcache/` + iniFilename + `'. Use the 'print-config' sub-command to inspect
	the tool's current configuration.
	`
	mbp.Must(CommandRegistry.AddCommands("", parser.Command, true), "could not add subcommand")
	mbp.MustParseConfig(parser, iniFilename)
}
