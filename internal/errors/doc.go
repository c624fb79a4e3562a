// Package errors provides coded, actionable errors for pulse.
//
// Every failure that crosses a package boundary (storage backends, the sync
// hub, configuration, the CLI) is reported as a *PulseError carrying a
// stable code, a category, and optionally a hint:
//
//	err := errors.New("P001").
//	    WithDetail("PUT cart: connection refused").
//	    WithSuggestion("Check that the bucket exists and credentials are set").
//	    Wrap(cause)
//
//	fmt.Println(err.Format())
//	// ERROR P001: Storage backend failure
//	//
//	//   PUT cart: connection refused
//	//
//	//   Hint: Check that the bucket exists and credentials are set
//
// Errors compare by code with errors.Is:
//
//	if errors.Is(err, errors.New("P001")) { ... }
package errors
