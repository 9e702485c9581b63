// Package errors provides coded, actionable errors for the lumen command
// and its configuration file.
//
// Every error has a code that maps to a registered template:
//   - E2xx: configuration file errors (parse, validation, write)
//   - E3xx: command-line errors (listen, probe, inspect)
//
// Errors carry an optional file location, so a bad TOML value can be shown
// in place:
//
//	err := errors.New("E204").
//	    WithLocation("lumen.toml", 3, 11).
//	    WithDetail("rate_hz is 500").
//	    WithSuggestion("Use a rate between 1 and 120")
//
//	fmt.Println(err.Format())
//	// Output:
//	// ERROR E204: Update rate out of range
//	//
//	//   lumen.toml:3:11
//	//
//	//       1 │ listen = ":8081"
//	//       2 │
//	//   →   3 │ rate_hz = 500
//	//         │           ^
//	//
//	//   rate_hz is 500
//	//
//	//   Hint: Use a rate between 1 and 120
//
// Error implements Unwrap, so errors.Is and errors.As see the wrapped cause.
package errors
