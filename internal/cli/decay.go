package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fathomlabs/mnemo/internal/engine"
)

var decaySweep bool

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Run a decay pass over all memories",
	RunE:  runDecay,
}

func init() {
	decayCmd.Flags().BoolVar(&decaySweep, "sweep", false, "also hard-delete memories past retention")
}

func runDecay(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	eng := engine.New(db, nil)

	stats, err := eng.RunDecayTick(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("scanned %d, updated %d, soft-deleted %d, invalidated %d\n",
		stats.Scanned, stats.Updated, stats.SoftDeleted, stats.Invalidated)

	if decaySweep {
		deleted, err := eng.RunHardDeleteTick(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("hard-deleted %d\n", deleted)
	}
	return nil
}
