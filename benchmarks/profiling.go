package benchmarks

import (
	"fmt"
	"os"
	"path"
	"runtime"
	"runtime/pprof"

	"github.com/zeu5/dishrack-rl/types"
	"github.com/zeu5/dishrack-rl/util"
)

// newProfiledComparison creates the comparison, which wipes the save folder, and
// only then starts profiling into it
func newProfiledComparison(config *types.ComparisonConfig) (*types.Comparison, func(), error) {
	c := types.NewComparison(config)
	stop, err := startProfiling()
	if err != nil {
		return nil, nil, err
	}
	return c, stop, nil
}

// startProfiling starts the CPU profile, the returned function stops it and
// writes the heap profile
func startProfiling() (func(), error) {
	if cpuprofile == "" && memprofile == "" {
		return func() {}, nil
	}
	if err := util.EnsureDir(saveFile); err != nil {
		return nil, err
	}

	var cpuFile *os.File
	if cpuprofile != "" {
		cpuProfPath := path.Join(saveFile, cpuprofile)
		fmt.Println("Profiling CPU to ", cpuProfPath)
		f, err := os.Create(cpuProfPath)
		if err != nil {
			return nil, fmt.Errorf("could not create CPU profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return nil, fmt.Errorf("could not start CPU profile: %w", err)
		}
		cpuFile = f
	}

	return func() {
		if cpuFile != nil {
			pprof.StopCPUProfile()
			cpuFile.Close()
		}
		if memprofile != "" {
			memProfPath := path.Join(saveFile, memprofile)
			fmt.Println("Profiling Memory to ", memProfPath)
			f, err := os.Create(memProfPath)
			if err != nil {
				fmt.Printf("could not create memory profile: %s\n", err)
				return
			}
			defer f.Close()
			runtime.GC() // get up-to-date statistics
			if err := pprof.WriteHeapProfile(f); err != nil {
				fmt.Printf("could not write memory profile: %s\n", err)
			}
		}
	}, nil
}
