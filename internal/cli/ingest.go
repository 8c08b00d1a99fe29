package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fathomlabs/mnemo/internal/store"
)

var (
	ingestContainer string
	ingestType      string
	ingestNoOracle  bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [content...]",
	Short: "Store a new memory and classify it against existing ones",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestContainer, "container", "c", "default", "container tag")
	ingestCmd.Flags().StringVarP(&ingestType, "type", "t", store.TypeFact, "memory type: fact, preference, episode")
	ingestCmd.Flags().BoolVar(&ingestNoOracle, "no-classify", false, "store without relation classification")
}

func runIngest(cmd *cobra.Command, args []string) error {
	content := strings.Join(args, " ")
	cfg := loadConfig()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	eng := buildEngine(cfg, db)

	m := &store.Memory{
		Content:      content,
		MemoryType:   ingestType,
		ContainerTag: ingestContainer,
	}

	if ingestNoOracle || eng.LLM == nil {
		if err := db.CreateMemory(m); err != nil {
			return err
		}
		if err := eng.EmbedMemory(cmd.Context(), m); err != nil {
			fmt.Printf("stored %s (embed failed: %v)\n", m.ID, err)
			return nil
		}
		fmt.Printf("stored %s\n", m.ID)
		return nil
	}

	applied, err := eng.IngestClassify(cmd.Context(), m)
	if err != nil {
		return err
	}
	fmt.Printf("stored %s\n", m.ID)
	for _, a := range applied {
		switch {
		case a.DerivedID != "":
			fmt.Printf("  %s with %s -> derived %s (%.2f)\n", a.Relation, a.CandidateID, a.DerivedID, a.Confidence)
		default:
			fmt.Printf("  %s %s (%.2f)\n", a.Relation, a.CandidateID, a.Confidence)
		}
	}
	return nil
}
