package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fathomlabs/mnemo/internal/client"
	"github.com/fathomlabs/mnemo/internal/store"
)

// remember and recall go through a running server instead of opening the
// database, so classification lands on the server's queue and concurrent
// callers don't contend for the database file.

var (
	remoteURL         string
	rememberType      string
	rememberContainer string
	recallContainer   string
	recallMode        string
	recallLimit       int
)

var rememberCmd = &cobra.Command{
	Use:   "remember [content...]",
	Short: "Store a memory via a running mnemo server",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRemember,
}

var recallCmd = &cobra.Command{
	Use:   "recall [query...]",
	Short: "Search via a running mnemo server",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRecall,
}

func init() {
	rememberCmd.Flags().StringVar(&remoteURL, "url", "", "server URL (default $MNEMO_URL or local)")
	rememberCmd.Flags().StringVarP(&rememberType, "type", "t", store.TypeFact, "memory type")
	rememberCmd.Flags().StringVarP(&rememberContainer, "container", "c", "default", "container tag")

	recallCmd.Flags().StringVar(&remoteURL, "url", "", "server URL (default $MNEMO_URL or local)")
	recallCmd.Flags().StringVarP(&recallContainer, "container", "c", "default", "container tag")
	recallCmd.Flags().StringVarP(&recallMode, "mode", "m", "memory", "search mode: memory, rag, hybrid")
	recallCmd.Flags().IntVarP(&recallLimit, "limit", "n", 10, "max results")

	rootCmd.AddCommand(rememberCmd)
	rootCmd.AddCommand(recallCmd)
}

func runRemember(cmd *cobra.Command, args []string) error {
	c := client.New(remoteURL)
	if !c.Healthy() {
		return fmt.Errorf("no mnemo server reachable; start one with `mnemo serve` or use `mnemo ingest`")
	}
	m, err := c.Remember(strings.Join(args, " "), rememberType, rememberContainer)
	if err != nil {
		return err
	}
	fmt.Printf("stored %s\n", m.ID)
	return nil
}

func runRecall(cmd *cobra.Command, args []string) error {
	c := client.New(remoteURL)
	if !c.Healthy() {
		return fmt.Errorf("no mnemo server reachable; start one with `mnemo serve` or use `mnemo search`")
	}
	results, err := c.Recall(strings.Join(args, " "), recallContainer, recallMode, recallLimit)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%2d. [%.3f] (%s) %s\n", i+1, r.Score, r.Kind, r.Content)
	}
	return nil
}
