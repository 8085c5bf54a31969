package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/coin-relay/internal/ledger"
	"github.com/sweeney/coin-relay/internal/logic"
	"github.com/sweeney/coin-relay/internal/store"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the persisted machine state and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, settings, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer log.Sync()

		loc, err := settings.App.Location()
		if err != nil {
			return err
		}
		s, err := store.New(settings.App.StateFile, loc, log).Load()
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v (showing default state)\n", err)
		}
		printState(cmd.OutOrStdout(), s, settings.App.PolicyValue(), settings.App.Window())
		return nil
	},
}

var countersCmd = &cobra.Command{
	Use:   "counters",
	Short: "Print the state file verbatim",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, settings, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer log.Sync()

		data, err := store.New(settings.App.StateFile, nil, log).ReadRaw()
		if err != nil {
			return err
		}
		cmd.OutOrStdout().Write(data)
		fmt.Fprintln(cmd.OutOrStdout())
		return nil
	},
}

var resetReason string

var resetCounterCmd = &cobra.Command{
	Use:   "reset-counter",
	Short: "Zero the coin counter and record why in the ledger",
	Long: `Zeroes the persisted coin counter, keeping the on/off state, and records
the previous total and the reason in the ledger.

Stop the daemon first: a running daemon keeps its own counter and writes it
back on the next coin or report.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, settings, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer log.Sync()

		if !settings.Ledger.Enabled {
			return errors.New("reset-counter requires the ledger to be enabled")
		}
		led, err := ledger.Open(settings.Ledger.DSN, log)
		if err != nil {
			return err
		}
		defer led.Close()

		loc, err := settings.App.Location()
		if err != nil {
			return err
		}
		prev, err := resetCounter(store.New(settings.App.StateFile, loc, log), led, resetReason, time.Now().In(loc))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "counter reset: %v -> 0\n", prev.Counter)
		return nil
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print recent ledger entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, settings, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer log.Sync()

		led, err := ledger.Open(settings.Ledger.DSN, log)
		if err != nil {
			return err
		}
		defer led.Close()

		entries, err := led.Recent(historyLimit)
		if err != nil {
			return err
		}
		printHistory(cmd.OutOrStdout(), entries)
		return nil
	},
}

func init() {
	resetCounterCmd.Flags().StringVar(&resetReason, "reason", "", "why the counter is being reset (required)")
	resetCounterCmd.MarkFlagRequired("reason")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of entries to show")
}

// counterStore is the part of the state store reset-counter needs.
type counterStore interface {
	Load() (logic.MachineState, error)
	Save(s logic.MachineState) error
}

// resetRecorder is the part of the ledger reset-counter needs.
type resetRecorder interface {
	RecordReset(prev logic.MachineState, reason string) error
}

// resetCounter zeroes the counter. The ledger entry is written first so a
// reset never happens without a record of the previous total.
func resetCounter(st counterStore, led resetRecorder, reason string, now time.Time) (logic.MachineState, error) {
	if reason == "" {
		return logic.MachineState{}, errors.New("a reason is required")
	}
	prev, err := st.Load()
	if err != nil {
		return logic.MachineState{}, fmt.Errorf("refusing to reset an unreadable state file: %w", err)
	}
	if err := led.RecordReset(prev, reason); err != nil {
		return logic.MachineState{}, err
	}
	next := prev
	next.Counter = 0
	next.LastUpdate = now
	if err := st.Save(next); err != nil {
		return logic.MachineState{}, fmt.Errorf("save state: %w", err)
	}
	return prev, nil
}

func printState(w io.Writer, s logic.MachineState, policy logic.Policy, window logic.TimeWindow) {
	last := "never"
	if !s.LastUpdate.IsZero() {
		last = s.LastUpdate.Format(store.TimeLayout)
	}
	fmt.Fprintf(w, "Machine: %s, Total: %v, Last update: %s\n", logic.StateString(s.On), s.Counter, last)
	fmt.Fprintf(w, "Policy: %s, Window: %s\n", policy, window)
}

func printHistory(w io.Writer, entries []ledger.Entry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tKIND\tCAUSE\tSTATE\tTOTAL\tREASON")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s->%s\t%v->%v\t%s\n",
			e.At.Format(store.TimeLayout),
			e.Kind,
			e.Cause,
			logic.StateString(e.FromOn),
			logic.StateString(e.ToOn),
			e.FromTotal,
			e.ToTotal,
			e.Reason,
		)
	}
	tw.Flush()
}
