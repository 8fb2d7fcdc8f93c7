// Command statctl is a command-line client for a dataplane producer's
// shared statistics segment: list matching stats, dump their decoded
// values once, or poll repeatedly.
package main

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/simeonmiteff/statseg"
	"github.com/simeonmiteff/statseg/pkg/decoder"
	"github.com/simeonmiteff/statseg/pkg/wire"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var socketPath string
	var patterns []string
	var verbose bool

	root := &cobra.Command{
		Use:   "statctl",
		Short: "Inspect a dataplane producer's shared statistics segment",
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", statseg.DefaultSocketPath, "path to the producer's control socket")
	root.PersistentFlags().StringArrayVar(&patterns, "pattern", nil, "regular expression a stat name must match (repeatable; union semantics, default matches everything)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	connect := func() (*statseg.Client, error) {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
		return statseg.Connect(socketPath)
	}

	root.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "List stats matching the given patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect()
			if err != nil {
				return err
			}
			defer client.Close()

			dir, err := client.Ls(statseg.BuildPatternVector(patterns)...)
			if err != nil {
				return err
			}
			for _, name := range dir.Names() {
				fmt.Println(name)
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Dump the decoded values of stats matching the given patterns once",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect()
			if err != nil {
				return err
			}
			defer client.Close()
			return dumpOnce(client, statseg.BuildPatternVector(patterns))
		},
	})

	root.AddCommand(newPollCmd(&socketPath, &patterns, 5*time.Second, "poll"))
	root.AddCommand(newPollCmd(&socketPath, &patterns, 0, "tightpoll"))

	return root
}

func newPollCmd(socketPath *string, patterns *[]string, interval time.Duration, use string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Repeatedly dump stats matching the given patterns (%s)", use),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := statseg.Connect(*socketPath)
			if err != nil {
				return err
			}
			defer client.Close()

			pv := statseg.BuildPatternVector(*patterns)
			for {
				if err := dumpOnce(client, pv); err != nil {
					fmt.Fprintln(os.Stderr, err)
				}
				if interval > 0 {
					time.Sleep(interval)
				}
			}
		},
	}
}

func dumpOnce(client *statseg.Client, patterns []string) error {
	dir, err := client.Ls(patterns...)
	if err != nil {
		return err
	}
	snap, err := dir.Dump()
	if err != nil {
		return err
	}
	for _, e := range snap.Entries {
		printEntry(e)
	}
	return nil
}

func printEntry(e statseg.SnapshotEntry) {
	switch e.Value.Kind {
	case wire.KindScalarIndex:
		if math.IsNaN(e.Value.Scalar) {
			fmt.Printf("%s: NaN\n", e.Name)
		} else {
			fmt.Printf("%s: %g\n", e.Name, e.Value.Scalar)
		}
	case wire.KindCounterVectorSimple:
		fmt.Printf("%s: %v\n", e.Name, e.Value.Simple)
	case wire.KindCounterVectorCombined:
		fmt.Printf("%s: %s\n", e.Name, formatCombined(e.Value.Combined))
	case wire.KindNameVector:
		fmt.Printf("%s: %v\n", e.Name, e.Value.Names)
	case wire.KindEmpty:
		fmt.Printf("%s: (empty)\n", e.Name)
	}
}

func formatCombined(rows [][]decoder.CombinedCounter) string {
	out := ""
	for t, perIface := range rows {
		for i, c := range perIface {
			out += fmt.Sprintf("[thread=%d iface=%d packets=%d bytes=%d] ", t, i, c.Packets, c.Bytes)
		}
	}
	return out
}
