package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fathomlabs/mnemo/internal/engine"
)

var (
	searchContainer string
	searchMode      string
	searchLimit     int
	searchExpand    bool
	searchRerank    bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query...]",
	Short: "Search memories and documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().StringVarP(&searchContainer, "container", "c", "default", "container tag to search in")
	searchCmd.Flags().StringVarP(&searchMode, "mode", "m", "memory", "search mode: memory, rag, hybrid")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "max results")
	searchCmd.Flags().BoolVar(&searchExpand, "expand", false, "expand the query before embedding")
	searchCmd.Flags().BoolVar(&searchRerank, "rerank", false, "rerank top candidates with the oracle")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	cfg := loadConfig()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	eng := buildEngine(cfg, db)

	results, err := eng.Retrieve(cmd.Context(), query, searchContainer, engine.Mode(searchMode), engine.SearchOpts{
		Limit:  searchLimit,
		Expand: searchExpand,
		Rerank: searchRerank,
	})
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}
	for i, r := range results {
		label := r.Kind
		if r.Memory != nil {
			label = r.Memory.MemoryType
		}
		fmt.Printf("%2d. [%.3f] (%s) %s\n", i+1, r.Score, label, r.Content)
	}
	return nil
}
