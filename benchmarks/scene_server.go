package benchmarks

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/zeu5/dishrack-rl/simserver"
)

func SceneServerCommand() *cobra.Command {
	var scenePath string
	var basePort int
	var count int

	cmd := &cobra.Command{
		Use:   "scene-server",
		Short: "Serve kinematic dish rack scenes over the simulator bridge protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			file := simserver.DishRackScene()
			if scenePath != "" {
				var err error
				if file, err = simserver.LoadSceneFile(scenePath); err != nil {
					return err
				}
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			for rank := 0; rank < count; rank++ {
				addr := fmt.Sprintf("0.0.0.0:%d", basePort+rank)
				server := simserver.New(addr, simserver.NewScene(), simserver.FixedScene(file))
				server.Start(ctx)
				fmt.Printf("Scene of rank %d listening on %s\n", rank, addr)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt)
			<-sigCh
			return nil
		},
	}
	cmd.Flags().StringVar(&scenePath, "scene", "", "JSON scene file, the built-in dish rack scene when empty")
	cmd.Flags().IntVar(&basePort, "base-port", 19997, "Port of rank 0")
	cmd.Flags().IntVar(&count, "count", 1, "Number of scenes, one port each")
	return cmd
}
