// Package dynamo provides the primitives shared by the furnace model layers.
//
// The package defines:
//
//   - [State]: vector of water, hydrogen, carbon monoxide and boiler output
//   - [Control]: boiler command, source mixing ratio and total flow
//   - the error taxonomy used from schedule construction to result unpacking
//
// # Errors
//
// Every typed error unwraps to a package sentinel so callers can branch with
// errors.Is and recover diagnostics with errors.As:
//
//	var div *dynamo.SolverDivergedError
//	if errors.As(err, &div) {
//		log.Printf("solver stopped with %s", div.Status)
//	}
package dynamo
