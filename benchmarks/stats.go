package benchmarks

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zeu5/dishrack-rl/obsnorm"
)

// StatsCommand inspects or seeds the observation statistics shared through redis
func StatsCommand() *cobra.Command {
	var addr, name, push, pull string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print, push or pull the observation statistics stored in redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := obsnorm.DialRedis(addr)
			defer store.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if push != "" {
				s, err := obsnorm.LoadFile(push)
				if err != nil {
					return err
				}
				if err := store.Save(ctx, name, s); err != nil {
					return err
				}
				fmt.Printf("Stored %s as %s\n", push, name)
				return nil
			}

			s, err := store.Load(ctx, name)
			if err != nil {
				return err
			}
			fmt.Printf("%s (count %.1f)\n", name, s.Count)
			for i := range s.Mean {
				fmt.Printf("%3d: mean %10.5f var %10.5f\n", i, s.Mean[i], s.Var[i])
			}
			if pull != "" {
				return obsnorm.SaveFile(pull, s)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "redis", "127.0.0.1:6379", "Redis address")
	cmd.Flags().StringVar(&name, "name", "dishrack", "Name of the statistics")
	cmd.Flags().StringVar(&push, "push", "", "Store the JSON statistics file under name")
	cmd.Flags().StringVar(&pull, "pull", "", "Write the stored statistics to a JSON file")
	return cmd
}
