package kv

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ValentinKolb/kvbind/cmd/util"
	"github.com/ValentinKolb/kvbind/lib/binding"
	"github.com/ValentinKolb/kvbind/lib/completion"
	"github.com/ValentinKolb/kvbind/lib/engine"
	"github.com/spf13/cobra"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return get(engine.GetCmd{Key: args[0]})
		},
	}
	setCmd     = storeCommand(completion.StoreSet, "Sets the value for a key")
	addCmd     = storeCommand(completion.StoreAdd, "Sets the value for a key if the key does not exist")
	replaceCmd = storeCommand(completion.StoreReplace, "Replaces the value of an existing key")
	appendCmd  = storeCommand(completion.StoreAppend, "Appends to the value of an existing key")
	prependCmd = storeCommand(completion.StorePrepend, "Prepends to the value of an existing key")
	delCmd     = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cas, _ := cmd.Flags().GetUint64("cas")
			got, err := session.Do(completion.KindRemove, func(conn *binding.Connection) error {
				return conn.Remove(nil, engine.RemoveCmd{Key: args[0], CAS: cas})
			})
			if err != nil {
				return err
			}
			return util.PrintResult(got, func(c completion.Completion) string {
				p := c.Payload.(completion.Remove)
				return fmt.Sprintf("%s deleted %s", p.Key, util.Field("cas", p.CAS))
			})
		},
	}
	incrCmd  = arithmeticCommand("incr", 1, "Increments a counter")
	decrCmd  = arithmeticCommand("decr", -1, "Decrements a counter")
	touchCmd = &cobra.Command{
		Use:   "touch [key] [expiry]",
		Short: "Updates the expiry (in seconds) of a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			expiry, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("expiry must be a number: %w", err)
			}
			got, err := session.Do(completion.KindTouch, func(conn *binding.Connection) error {
				return conn.Touch(nil, engine.TouchCmd{Key: args[0], Expiry: uint32(expiry)})
			})
			if err != nil {
				return err
			}
			return util.PrintResult(got, func(c completion.Completion) string {
				p := c.Payload.(completion.Touch)
				return fmt.Sprintf("%s touched %s", p.Key, util.Field("cas", p.CAS))
			})
		},
	}
	lockCmd = &cobra.Command{
		Use:   "lock [key] [seconds]",
		Short: "Reads the value for a key and locks it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			seconds, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("seconds must be a number: %w", err)
			}
			return get(engine.GetCmd{Key: args[0], Lock: time.Duration(seconds) * time.Second})
		},
	}
	unlockCmd = &cobra.Command{
		Use:   "unlock [key] [cas]",
		Short: "Releases a lock taken with lock",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cas, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("cas must be a number: %w", err)
			}
			got, err := session.Do(completion.KindUnlock, func(conn *binding.Connection) error {
				return conn.Unlock(nil, engine.UnlockCmd{Key: args[0], CAS: cas})
			})
			if err != nil {
				return err
			}
			return util.PrintResult(got, func(c completion.Completion) string {
				return fmt.Sprintf("%s unlocked", c.Payload.(completion.Unlock).Key)
			})
		},
	}
	observeCmd = &cobra.Command{
		Use:   "observe [key]",
		Short: "Shows the state of a key on every server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			got, err := session.Do(completion.KindObserve, func(conn *binding.Connection) error {
				return conn.Observe(nil, engine.ObserveCmd{Key: args[0]})
			})
			if err != nil {
				return err
			}
			return util.PrintResult(got, func(c completion.Completion) string {
				p := c.Payload.(completion.Observe)
				if completion.Terminal(p) {
					return ""
				}
				return fmt.Sprintf("%s %s %s %s", p.Server, util.Field("state", p.State), util.Field("cas", p.CAS), util.Field("master", p.Master))
			})
		},
	}
	statsCmd = &cobra.Command{
		Use:   "stats [group]",
		Short: "Prints the statistics of every server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			group := ""
			if len(args) == 1 {
				group = args[0]
			}
			got, err := session.Do(completion.KindStat, func(conn *binding.Connection) error {
				return conn.Stats(nil, engine.StatsCmd{Name: group})
			})
			if err != nil {
				return err
			}
			return util.PrintResult(got, func(c completion.Completion) string {
				p := c.Payload.(completion.Stat)
				if completion.Terminal(p) {
					return ""
				}
				return fmt.Sprintf("%s %s", p.Server, util.Field(p.Key, string(p.Value)))
			})
		},
	}
	flushCmd = &cobra.Command{
		Use:   "flush",
		Short: "Removes every item of the bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			got, err := session.Do(completion.KindFlush, func(conn *binding.Connection) error {
				return conn.Flush(nil, engine.FlushCmd{})
			})
			if err != nil {
				return err
			}
			return util.PrintResult(got, func(c completion.Completion) string {
				p := c.Payload.(completion.Flush)
				if completion.Terminal(p) {
					return ""
				}
				return fmt.Sprintf("%s flushed", p.Server)
			})
		},
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Prints the version of every server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			got, err := session.Do(completion.KindVersion, func(conn *binding.Connection) error {
				return conn.Version(nil, engine.VersionCmd{})
			})
			if err != nil {
				return err
			}
			return util.PrintResult(got, func(c completion.Completion) string {
				p := c.Payload.(completion.Version)
				if completion.Terminal(p) {
					return ""
				}
				return fmt.Sprintf("%s %s", p.Server, util.Field("version", p.Version))
			})
		},
	}
	verbosityCmd = &cobra.Command{
		Use:   "verbosity [level]",
		Short: "Sets the log verbosity of one or every server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := strconv.ParseUint(args[0], 10, 8)
			if err != nil {
				return fmt.Errorf("level must be a number: %w", err)
			}
			server, _ := cmd.Flags().GetString("server")
			got, err := session.Do(completion.KindVerbosity, func(conn *binding.Connection) error {
				return conn.Verbosity(nil, engine.VerbosityCmd{Level: uint8(level), Server: server})
			})
			if err != nil {
				return err
			}
			return util.PrintResult(got, func(c completion.Completion) string {
				p := c.Payload.(completion.Verbosity)
				if completion.Terminal(p) {
					return ""
				}
				return fmt.Sprintf("%s %s", p.Server, util.Field("level", level))
			})
		},
	}
)

func init() {
	for _, cmd := range []*cobra.Command{setCmd, addCmd, replaceCmd, appendCmd, prependCmd} {
		cmd.Flags().Uint32("flags", 0, util.WrapString("Opaque flags stored with the value"))
		cmd.Flags().Uint32("expiry", 0, util.WrapString("Expiry in seconds, values above thirty days are absolute unix times"))
		cmd.Flags().Uint64("cas", 0, util.WrapString("Only store if the item has this cas"))
	}
	delCmd.Flags().Uint64("cas", 0, util.WrapString("Only delete if the item has this cas"))
	for _, cmd := range []*cobra.Command{incrCmd, decrCmd} {
		cmd.Flags().Uint64("initial", 0, util.WrapString("Initial value of a counter created by this command"))
		cmd.Flags().Bool("create", false, util.WrapString("Create the counter if it does not exist"))
		cmd.Flags().Uint32("expiry", 0, util.WrapString("Expiry of a created counter in seconds"))
	}
	verbosityCmd.Flags().String("server", "", util.WrapString("Only change the verbosity of this server"))
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func get(cmd engine.GetCmd) error {
	got, err := session.Do(completion.KindGet, func(conn *binding.Connection) error {
		return conn.Get(nil, cmd)
	})
	if err != nil {
		return err
	}
	return util.PrintResult(got, func(c completion.Completion) string {
		p := c.Payload.(completion.Get)
		return fmt.Sprintf("%s %s %s %s", p.Key, util.Field("flags", p.Flags), util.Field("cas", p.CAS), util.Field("value", string(p.Value)))
	})
}

func storeCommand(op completion.StoreOperation, short string) *cobra.Command {
	return &cobra.Command{
		Use:   op.String() + " [key] [value]",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags, _ := cmd.Flags().GetUint32("flags")
			expiry, _ := cmd.Flags().GetUint32("expiry")
			cas, _ := cmd.Flags().GetUint64("cas")

			got, err := session.Do(completion.KindStore, func(conn *binding.Connection) error {
				return conn.Store(nil, engine.StoreCmd{
					Operation: op,
					Key:       args[0],
					Value:     []byte(args[1]),
					Flags:     flags,
					Expiry:    expiry,
					CAS:       cas,
				})
			})
			if err != nil {
				return err
			}
			return util.PrintResult(got, func(c completion.Completion) string {
				p := c.Payload.(completion.Store)
				return fmt.Sprintf("%s %s %s", p.Key, util.Field("op", p.Operation), util.Field("cas", p.CAS))
			})
		},
	}
}

func arithmeticCommand(name string, sign int64, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " [key] [delta]",
		Short: short,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta := int64(1)
			if len(args) == 2 {
				d, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil {
					return fmt.Errorf("delta must be a number: %w", err)
				}
				delta = d
			}
			initial, _ := cmd.Flags().GetUint64("initial")
			create, _ := cmd.Flags().GetBool("create")
			expiry, _ := cmd.Flags().GetUint32("expiry")

			got, err := session.Do(completion.KindArithmetic, func(conn *binding.Connection) error {
				return conn.Arithmetic(nil, engine.ArithmeticCmd{
					Key:     args[0],
					Delta:   sign * delta,
					Initial: initial,
					Create:  create,
					Expiry:  expiry,
				})
			})
			if err != nil {
				return err
			}
			return util.PrintResult(got, func(c completion.Completion) string {
				p := c.Payload.(completion.Arithmetic)
				return fmt.Sprintf("%s %s %s", p.Key, util.Field("value", p.Value), util.Field("cas", p.CAS))
			})
		},
	}
}
