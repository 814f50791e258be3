package root

import (
	"github.com/zenGate-Global/tenant-pool/apps/cli/cmd/auth"
	"github.com/zenGate-Global/tenant-pool/apps/cli/cmd/bootstrap"
	"github.com/zenGate-Global/tenant-pool/apps/cli/cmd/credentials"
	"github.com/zenGate-Global/tenant-pool/apps/cli/cmd/lifecycle"
	"github.com/zenGate-Global/tenant-pool/apps/cli/cmd/slots"
)

func init() {
	Root().AddCommand(auth.Command())
	Root().AddCommand(bootstrap.Command())
	Root().AddCommand(slots.Command())
	Root().AddCommand(credentials.Command())
	Root().AddCommand(lifecycle.AllocateCommand())
	Root().AddCommand(lifecycle.DeployCommand())
	Root().AddCommand(lifecycle.TeardownCommand())
	Root().AddCommand(lifecycle.ReconcileCommand())
}
