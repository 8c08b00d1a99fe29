package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge base statistics",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	s, err := db.GetStats()
	if err != nil {
		return err
	}

	fmt.Printf("db: %s\n", db.Path)
	fmt.Printf("active memories: %d\n", s.ActiveMemories)
	types := make([]string, 0, len(s.MemoriesByType))
	for t := range s.MemoriesByType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Printf("  %-10s %d\n", t, s.MemoriesByType[t])
	}
	fmt.Printf("forgotten: %d\n", s.Forgotten)
	fmt.Printf("edges: %d\n", s.Edges)
	fmt.Printf("entities: %d  documents: %d  chunks: %d  vectors: %d\n",
		s.Entities, s.Documents, s.Chunks, s.Vectors)
	return nil
}
