package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vango-dev/pulse/internal/config"
	"github.com/vango-dev/pulse/internal/errors"
	"github.com/vango-dev/pulse/pkg/reactive"
	"github.com/vango-dev/pulse/pkg/store"
)

// cartKey is the storage key of the demo cart.
const cartKey = "cart"

// CartItem is one line of the demo cart.
type CartItem struct {
	ID       int `json:"id" yaml:"id"`
	Quantity int `json:"quantity" yaml:"quantity"`
}

// addItem returns items with qty added to item id. Lines that drop to zero
// or below are removed.
func addItem(items []CartItem, id, qty int) []CartItem {
	out := make([]CartItem, 0, len(items)+1)
	found := false
	for _, it := range items {
		if it.ID == id {
			found = true
			it.Quantity += qty
		}
		if it.Quantity > 0 {
			out = append(out, it)
		}
	}
	if !found && qty > 0 {
		out = append(out, CartItem{ID: id, Quantity: qty})
	}
	return out
}

func countItems(items []CartItem) int {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return n
}

// cart is the demo cart bound to a root.
type cart struct {
	items *store.Persistent[[]CartItem]
	count *reactive.Memo[int]
}

func openCart(ctx context.Context, root *reactive.Root, adapter store.Adapter, codec store.Codec) (*cart, error) {
	items, err := store.Open(root, adapter, cartKey, []CartItem{},
		store.WithCodec(codec),
		store.WithContext(ctx),
	)
	if err != nil {
		return nil, err
	}
	count := reactive.NewMemo(root, func() int {
		return countItems(items.Get())
	})
	return &cart{items: items, count: count}, nil
}

func (c *cart) close() {
	c.count.Dispose()
	c.items.Close()
}

func cartCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Shopping cart demo",
		Long: `A shopping cart kept in the "cart" key.

The cart is a persistent list of items and the count is a memo over it.
Run "pulse cart count --follow" in one terminal and "pulse cart add" in
another to see the count follow along.`,
	}

	cmd.AddCommand(
		cartAddCmd(flags),
		cartCountCmd(flags),
		cartClearCmd(flags),
	)

	return cmd
}

// withCart opens the configured adapter and the cart on a fresh root.
func withCart(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, root *reactive.Root, c *cart) error) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if cfg.Storage.Backend == config.BackendMemory {
		warn("The memory backend forgets the cart when this command exits")
	}

	adapter, err := openAdapter(cfg, slog.Default())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := reactive.NewRoot()
	defer root.Close()

	c, err := openCart(ctx, root, adapter, codecFor(cfg))
	if err != nil {
		return err
	}
	defer c.close()

	return fn(ctx, root, c)
}

func cartAddCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "add ID QTY",
		Short:   "Add QTY of item ID (negative to remove)",
		Example: `  pulse cart add 7 2`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return errors.New(errors.CodeUsage).WithDetailf("item id %q is not a number", args[0])
			}
			qty, err := strconv.Atoi(args[1])
			if err != nil {
				return errors.New(errors.CodeUsage).WithDetailf("quantity %q is not a number", args[1])
			}

			return withCart(cmd, flags, func(_ context.Context, _ *reactive.Root, c *cart) error {
				c.items.Update(func(items []CartItem) []CartItem {
					return addItem(items, id, qty)
				})
				if err := c.items.Err(); err != nil {
					return err
				}
				success("Cart has %d item(s)", c.count.Get())
				return nil
			})
		},
	}
}

func cartCountCmd(flags *globalFlags) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Print the number of items in the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCart(cmd, flags, func(ctx context.Context, root *reactive.Root, c *cart) error {
				if !follow {
					fmt.Println(c.count.Get())
					return nil
				}

				reactive.Watch(root, func() {
					fmt.Println(c.count.Get())
				})
				if err := root.Run(ctx); err != nil && !stderrors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing the count as it changes")

	return cmd
}

func cartClearCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Empty the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCart(cmd, flags, func(_ context.Context, _ *reactive.Root, c *cart) error {
				c.items.Reset()
				if err := c.items.Err(); err != nil {
					return err
				}
				success("Cart cleared")
				return nil
			})
		},
	}
}
