package refctlcmd

import (
	"fmt"

	"github.com/pkg/errors"
	mbp "go.refcache.dev/core/mainboilerplate"
	"go.refcache.dev/core/refdao"
)

type cmdResolveExternal struct {
	Systems []string `long:"system" short:"s" description:"External system name to resolve. May be repeated"`
	Values  []string `long:"value" short:"v" description:"External reference value to resolve. May be repeated"`
	Create  bool     `long:"create" description:"Create rows of systems and values which don't yet exist"`
}

func init() {
	CommandRegistry.AddCommand("", "resolve-external", "Resolve ids of external systems and reference values", `
Resolve the ids of external systems and external reference values. By
default, only existing rows are reported. With --create, rows are created
for systems and values which don't yet exist.

>    refctl resolve-external --system http://example.com --value Patient/123 --create
`, &cmdResolveExternal{})
}

func (cmd *cmdResolveExternal) Execute([]string) error {
	defer mbp.InitDiagnosticsAndRecover(baseCfg.Diagnostics)()

	if len(cmd.Systems) == 0 && len(cmd.Values) == 0 {
		return errors.New("at least one --system or --value is required")
	}
	var env = startup()
	var table = newTable("Kind", "Key", "ID")

	var err = env.transact(func(dao *refdao.DAO) error {
		if len(cmd.Systems) != 0 {
			var rows, err = cmd.systems(env, dao)
			if err != nil {
				return err
			}
			for _, row := range rows {
				if err = table.Append(row); err != nil {
					return err
				}
			}
		}
		if len(cmd.Values) != 0 {
			var rows, err = cmd.values(env, dao)
			if err != nil {
				return err
			}
			for _, row := range rows {
				if err = table.Append(row); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return table.Render()
}

func (cmd *cmdResolveExternal) systems(env *env, dao *refdao.DAO) ([][]string, error) {
	var rows [][]string
	if cmd.Create {
		var ids, err = dao.ExternalSystemIDs(env.ctx, cmd.Systems...)
		if err != nil {
			return nil, err
		}
		for _, name := range cmd.Systems {
			rows = append(rows, []string{"system", name, fmt.Sprint(ids[name])})
		}
		return rows, nil
	}
	var found, err = dao.QueryExternalSystems(env.ctx, cmd.Systems...)
	if err != nil {
		return nil, err
	}
	for _, s := range found {
		rows = append(rows, []string{"system", s.Name, fmt.Sprint(s.ID)})
	}
	return rows, nil
}

func (cmd *cmdResolveExternal) values(env *env, dao *refdao.DAO) ([][]string, error) {
	var rows [][]string
	if cmd.Create {
		var ids, err = dao.ExternalReferenceValueIDs(env.ctx, cmd.Values...)
		if err != nil {
			return nil, err
		}
		for _, value := range cmd.Values {
			rows = append(rows, []string{"value", value, fmt.Sprint(ids[value])})
		}
		return rows, nil
	}
	var found, err = dao.QueryExternalReferenceValues(env.ctx, cmd.Values...)
	if err != nil {
		return nil, err
	}
	for _, v := range found {
		rows = append(rows, []string{"value", v.Value, fmt.Sprint(v.ID)})
	}
	return rows, nil
}
