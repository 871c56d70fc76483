package cli

import (
	"context"
	"sync"

	"github.com/spf13/cobra"

	"github.com/kagucho/tsubonesystem3-sub000/pkg/syncmap"
)

func (a *app) newWatchCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "watch <table> [key]",
		Short: "Print an entity or a table every time it changes",
		Long: `Watch subscribes to one entity, or to the whole table when no key is
given, and prints each value the subscription delivers. It stops after
--count values, or on interrupt when --count is 0.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closeFn, err := a.openClient()
			if err != nil {
				return err
			}
			defer closeFn()

			col, err := collection(c, args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if len(args) == 2 {
				return watch(ctx, count, func(cb func(syncmap.Snapshot, error)) *syncmap.Subscription {
					return col.Detail(ctx, args[1], cb)
				}, func(s syncmap.Snapshot) error {
					if a.flags.jsonMode {
						return printJSON(out, s, true)
					}
					return printSnapshot(out, s)
				})
			}
			return watch(ctx, count, func(cb func(*syncmap.List, error)) *syncmap.Subscription {
				return col.List(ctx, cb)
			}, func(l *syncmap.List) error {
				if a.flags.jsonMode {
					return printJSON(out, l, true)
				}
				return printList(out, col.Name(), l)
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many values (0: until interrupted)")
	return cmd
}

// watch prints every value subscribe delivers until count values were
// printed, the stream fails or ctx is done.
func watch[T any](ctx context.Context, count int, subscribe func(func(T, error)) *syncmap.Subscription, print func(T) error) error {
	var (
		mu      sync.Mutex
		seen    int
		result  error
		stopped bool
		done    = make(chan struct{})
	)
	stop := func(err error) {
		if !stopped {
			stopped = true
			result = err
			close(done)
		}
	}

	sub := subscribe(func(v T, err error) {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		if err != nil {
			stop(opError(err))
			return
		}
		if err := print(v); err != nil {
			stop(err)
			return
		}
		seen++
		if count > 0 && seen >= count {
			stop(nil)
		}
	})
	defer sub.Unsubscribe()

	select {
	case <-done:
	case <-ctx.Done():
		mu.Lock()
		stop(nil)
		mu.Unlock()
	}

	mu.Lock()
	defer mu.Unlock()
	return result
}
