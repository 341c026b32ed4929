package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/pianoyeg94/go-pagereport"
	"github.com/pianoyeg94/go-pagereport/allocator/memalloc"
)

var (
	simPages    uint64
	simFrees    int
	simMinOrder uint32
	simMaxPages uint32
	simSeed     int64
	simPageSize int
	simMmap     bool
)

func init() {
	cmd := newSimulateCmd()
	cmd.Flags().Uint64Var(&simPages, "pages", 1<<16, "size of the simulated region, in pages")
	cmd.Flags().IntVar(&simFrees, "frees", 200, "number of order-minOrder free/alloc cycles to run")
	cmd.Flags().Uint32Var(&simMinOrder, "min-order", 9, "minimum block order tracked by the engine")
	cmd.Flags().Uint32Var(&simMaxPages, "max-pages", 16, "maximum batch length")
	cmd.Flags().Int64Var(&simSeed, "seed", 1, "PRNG seed, for repeatable demos")
	cmd.Flags().IntVar(&simPageSize, "page-size", 4096, "page size in bytes, used only by --mmap")
	cmd.Flags().BoolVar(&simMmap, "mmap", false, "back the simulated region with a real anonymous mapping instead of synthetic page frames")
	rootCmd.AddCommand(cmd)
}

func newSimulateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Run a synthetic free/allocate workload and print every reported batch",
		Long: `simulate builds one region of --pages pages, enables the reporting
engine over it with the given --min-order/--max-pages, and then frees a
sequence of order-min-order blocks at increasing page frames, each
immediately followed (with some probability) by a reallocation — the
same reallocation race described in scenario 3 of the design's
testable-properties section.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate()
		},
	}
}

func runSimulate() error {
	rng := rand.New(rand.NewSource(simSeed))

	// --mmap backs the simulated region with a real anonymous mapping
	// so pfn arithmetic below corresponds to addressable memory instead
	// of synthetic integers; NewRegion works identically either way.
	if simMmap {
		arena, err := memalloc.NewArena(simPages, simPageSize)
		if err != nil {
			return err
		}
		defer arena.Close()
		printInfo("mmap'd arena: %d bytes\n", len(arena.Bytes()))
	}

	alloc := memalloc.New()
	region, err := memalloc.NewRegion(0, simPages)
	if err != nil {
		return err
	}
	alloc.AddRegion(region)

	ctrl := pagereport.NewController(alloc)
	alloc.SetHooks(ctrl.Enqueue, ctrl.Dequeue)

	var (
		mu      sync.Mutex
		batches int
		pages   int
	)
	cfg := &pagereport.Config{
		MinOrder: simMinOrder,
		MaxPages: simMaxPages,
		ReportCallback: func(batch []pagereport.BatchEntry) {
			mu.Lock()
			batches++
			pages += len(batch)
			mu.Unlock()
			printBatch(batch)
		},
	}

	if err := ctrl.Enable(cfg); err != nil {
		return err
	}

	blockSize := uint64(1) << simMinOrder
	pfn := uint64(0)
	for i := 0; i < simFrees; i++ {
		if pfn+blockSize > simPages {
			break
		}
		alloc.Free(region, pfn, simMinOrder, 0)
		printInfo("freed pfn=%d order=%d\n", pfn, simMinOrder)

		// Reallocate roughly a third of freed blocks right away,
		// before the debounced scan has had a chance to run — this
		// is what exercises P5 (reallocation invalidation).
		if rng.Intn(3) == 0 {
			if err := alloc.Alloc(region, pfn, simMinOrder); err == nil {
				printInfo("reallocated pfn=%d before report\n", pfn)
			}
		}

		pfn += blockSize
	}

	// Give the debounced scheduler time to drain the candidate
	// index before disabling.
	time.Sleep(500 * time.Millisecond)

	ctrl.Disable(cfg)

	mu.Lock()
	fmt.Printf("simulate: %d batches, %d pages reported\n", batches, pages)
	mu.Unlock()
	return nil
}

func printBatch(batch []pagereport.BatchEntry) {
	if jsonOut {
		enc := json.NewEncoder(rootCmd.OutOrStdout())
		for _, e := range batch {
			_ = enc.Encode(struct {
				PFN           uint64 `json:"pfn"`
				Order         uint32 `json:"order"`
				LengthInBytes uint64 `json:"length_in_bytes"`
			}{e.PFN, e.Order, e.LengthInBytes})
		}
		return
	}
	fmt.Printf("report: batch of %d block(s):", len(batch))
	for _, e := range batch {
		fmt.Printf(" {pfn:%d order:%d len:%d}", e.PFN, e.Order, e.LengthInBytes)
	}
	fmt.Println()
}
