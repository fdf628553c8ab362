package refctlcmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	mbp "go.refcache.dev/core/mainboilerplate"
	"go.refcache.dev/core/refdao"
)

type cmdDelete struct {
	ResourceType       string  `long:"resource-type" short:"t" required:"true" description:"Resource type of the token references"`
	LogicalResourceIDs []int64 `long:"logical-resource-id" short:"i" required:"true" description:"Logical resource id whose references are deleted. May be repeated"`
}

func init() {
	CommandRegistry.AddCommand("", "delete", "Delete token references of logical resources", `
Delete the token references owned by logical resources of a resource type.
Code systems and common token values are never deleted, as they may be
shared by other resources. All deletions occur within one transaction.

>    refctl delete --resource-type Observation -i 1001 -i 1002
`, &cmdDelete{})
}

func (cmd *cmdDelete) Execute([]string) error {
	defer mbp.InitDiagnosticsAndRecover(baseCfg.Diagnostics)()

	if len(cmd.LogicalResourceIDs) == 0 {
		return errors.New("at least one --logical-resource-id is required")
	}
	var env = startup()
	var total int64

	var err = env.transact(func(dao *refdao.DAO) error {
		for _, id := range cmd.LogicalResourceIDs {
			var n, err = dao.DeleteReferencesFor(env.ctx, cmd.ResourceType, id)
			if err != nil {
				return err
			}
			log.WithFields(log.Fields{
				"resourceType":      cmd.ResourceType,
				"logicalResourceID": id,
				"rows":              n,
			}).Debug("deleted token references")
			total += n
		}
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %s token references of %d %s resources.\n",
		humanize.Comma(total), len(cmd.LogicalResourceIDs), cmd.ResourceType)
	return nil
}
