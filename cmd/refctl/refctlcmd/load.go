package refctlcmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	mbp "go.refcache.dev/core/mainboilerplate"
	"go.refcache.dev/core/refdao"
	"go.refcache.dev/core/refs"
	"golang.org/x/sync/errgroup"
)

type cmdLoad struct {
	Path      string `long:"path" default:"-" description:"Input CSV path. Use '-' for stdin"`
	ChunkSize int    `long:"chunk-size" default:"1000" description:"Records persisted per unit-of-work"`
	Workers   int    `long:"workers" default:"4" description:"Units-of-work run concurrently"`
}

func init() {
	CommandRegistry.AddCommand("", "load", "Load token references from CSV", `
Load token references from CSV records, resolving code systems and token
values to ids and creating those which don't yet exist.

Each record has columns:

  resource_type,logical_resource_id,parameter_name_id,code_system,token_value,ref_version_id

An empty code_system is the default code system. An empty token_value or
ref_version_id is null. A header row, if present, is skipped.

Records are persisted in chunks of --chunk-size, each within its own
transaction, and --workers chunks are persisted concurrently. A failure of
any chunk stops the load, though previously committed chunks remain.

Load references of resources from a file:
>    refctl load --path refs.csv --database.dialect postgres --database.dsn ...
`, &cmdLoad{})
}

func (cmd *cmdLoad) Execute([]string) error {
	defer mbp.InitDiagnosticsAndRecover(baseCfg.Diagnostics)()

	if cmd.ChunkSize <= 0 || cmd.Workers <= 0 {
		return errors.New("--chunk-size and --workers must be positive")
	}
	var env = startup()

	var r io.Reader = os.Stdin
	if cmd.Path != "-" {
		var f, err = os.Open(cmd.Path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	var recs, err = readRecords(r)
	if err != nil {
		return err
	}

	var started = time.Now()
	var grp, ctx = errgroup.WithContext(env.ctx)
	grp.SetLimit(cmd.Workers)
	env.ctx = ctx

	for begin := 0; begin < len(recs); begin += cmd.ChunkSize {
		var end = begin + cmd.ChunkSize
		if end > len(recs) {
			end = len(recs)
		}
		var chunk = recs[begin:end]

		grp.Go(func() error {
			return env.transact(func(dao *refdao.DAO) error {
				return dao.Persist(ctx, chunk)
			})
		})
	}
	if err = grp.Wait(); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"records": len(recs),
		"elapsed": time.Since(started),
	}).Info("loaded token references")

	fmt.Printf("Loaded %s token references in %s.\n",
		humanize.Comma(int64(len(recs))), time.Since(started).Round(time.Millisecond))

	var table = newTable("Directory", "Cached IDs")
	_ = table.Append([]string{env.cache.CodeSystems.Directory(), humanize.Comma(int64(env.cache.CodeSystems.Len()))})
	_ = table.Append([]string{env.cache.CommonTokenValues.Directory(), humanize.Comma(int64(env.cache.CommonTokenValues.Len()))})
	return table.Render()
}

// readRecords parses CSV token reference records from |r|.
func readRecords(r io.Reader) ([]*refs.TokenValueRec, error) {
	var cr = csv.NewReader(r)
	cr.FieldsPerRecord = 6
	cr.TrimLeadingSpace = true

	var out []*refs.TokenValueRec
	for line := 1; ; line++ {
		var fields, err = cr.Read()
		if err == io.EOF {
			return out, nil
		} else if err != nil {
			return nil, errors.WithMessage(err, "reading CSV")
		} else if line == 1 && fields[0] == "resource_type" {
			continue // Header.
		}

		var rec = &refs.TokenValueRec{
			ResourceType: strings.TrimSpace(fields[0]),
			CodeSystem:   fields[3],
		}
		if rec.LogicalResourceID, err = strconv.ParseInt(fields[1], 10, 64); err != nil {
			return nil, errors.WithMessagef(err, "line %d: logical_resource_id", line)
		}
		pid, err := strconv.ParseInt(fields[2], 10, 32)
		if err != nil {
			return nil, errors.WithMessagef(err, "line %d: parameter_name_id", line)
		}
		rec.ParameterNameID = int32(pid)

		if fields[4] != "" {
			rec.TokenValue = refs.String(fields[4])
		}
		if fields[5] != "" {
			var vid, err = strconv.ParseInt(fields[5], 10, 32)
			if err != nil {
				return nil, errors.WithMessagef(err, "line %d: ref_version_id", line)
			}
			rec.RefVersionID = refs.Int32(int32(vid))
		}
		out = append(out, rec)
	}
}
