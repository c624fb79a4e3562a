// Package store persists reactive signals in a key-value medium.
//
// An Adapter is the medium: it loads and stores encoded values by key and
// feeds back changes made by other contexts (another process sharing a
// directory, another client of the same hub, another handle on the same
// in-memory backend). A context never hears about its own writes.
//
// Open binds one key of an adapter to a signal:
//
//	r := reactive.NewRoot()
//	cart, err := store.Open(r, adapter, "cart", []CartItem{})
//	if err != nil {
//	    return err
//	}
//	defer cart.Close()
//
//	reactive.Watch(r, func() {
//	    fmt.Println(len(cart.Get()), "items")
//	})
//	cart.Set(append(cart.Peek(), CartItem{ID: 1, Quantity: 2})) // persisted
//
// Remote changes reach the signal through reactive.Root.Dispatch, so the
// goroutine driving the root must call Run or Flush to apply them.
package store
