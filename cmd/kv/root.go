package kv

import (
	"github.com/ValentinKolb/kvbind/cmd/util"
	"github.com/ValentinKolb/kvbind/lib/completion"
	"github.com/spf13/cobra"
)

var (
	session *util.Session

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:                "kv",
		Short:              "Perform key-value operations on a bucket",
		PersistentPreRunE:  setupSession,
		PersistentPostRunE: closeSession,
	}
)

func init() {
	// Add common RPC flags to the KV command
	util.SetupRPCClientFlags(KeyValueCommands)

	// Add subcommands
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(addCmd)
	KeyValueCommands.AddCommand(replaceCmd)
	KeyValueCommands.AddCommand(appendCmd)
	KeyValueCommands.AddCommand(prependCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(incrCmd)
	KeyValueCommands.AddCommand(decrCmd)
	KeyValueCommands.AddCommand(touchCmd)
	KeyValueCommands.AddCommand(lockCmd)
	KeyValueCommands.AddCommand(unlockCmd)
	KeyValueCommands.AddCommand(observeCmd)
	KeyValueCommands.AddCommand(statsCmd)
	KeyValueCommands.AddCommand(flushCmd)
	KeyValueCommands.AddCommand(versionCmd)
	KeyValueCommands.AddCommand(verbosityCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// setupSession connects to the configured bucket
func setupSession(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := util.InitLogging(); err != nil {
		return err
	}

	// The perf command opens its own sessions
	if cmd == perfTestCmd {
		return nil
	}

	var err error
	session, err = util.OpenSession(completion.ConnectionBucket)
	return err
}

func closeSession(_ *cobra.Command, _ []string) error {
	if session != nil {
		session.Close()
		session = nil
	}
	return nil
}
