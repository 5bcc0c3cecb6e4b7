package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mcpcassette/mcpcassette/internal/domain/cassette"
)

var inspectFlags struct {
	cassettePath string
	format       string
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print a summary of a cassette's contents",
	Long: `Inspect prints the interaction count, a per-type breakdown, and the
recording metadata (server URL, protocol version, recorded-at timestamp)
for --cassette, without contacting any server.`,
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectFlags.cassettePath, "cassette", "", "cassette file to inspect (required)")
	inspectCmd.Flags().StringVar(&inspectFlags.format, "format", "", "cassette encoding: json or yaml (default: from extension)")
	_ = inspectCmd.MarkFlagRequired("cassette")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	c, err := loadCassette(inspectFlags.cassettePath, inspectFlags.format)
	if err != nil {
		return err
	}

	fmt.Printf("cassette:      %s\n", inspectFlags.cassettePath)
	fmt.Printf("version:       %s\n", c.Version)
	fmt.Printf("server_url:    %s\n", c.Metadata.ServerURL)
	fmt.Printf("recorded_at:   %s\n", c.Metadata.RecordedAt)
	if c.Metadata.ProtocolVersion != nil {
		fmt.Printf("protocol:      %s\n", *c.Metadata.ProtocolVersion)
	}
	fmt.Printf("interactions:  %d\n", c.Len())

	byType := map[cassette.InteractionType]int{}
	for _, i := range c.Interactions {
		byType[i.Type]++
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Printf("  %-16s %d\n", t, byType[cassette.InteractionType(t)])
	}

	return nil
}
