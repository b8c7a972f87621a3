// Package viz renders solved furnace runs in the terminal.
//
//   - [Plot]: asciigraph chart of one figure kind, actual against target
//   - [Summary]: lipgloss panel with the solver diagnostics and metrics
//   - [Browser]: Bubble Tea viewer that steps through the trajectory
//
// # Key Bindings
//
//	Tab   - Next figure
//	↑/↓   - Move the cursor one node
//	PgUp  - Move ten nodes back
//	PgDn  - Move ten nodes forward
//	T     - Cycle color themes
//	Q     - Quit
package viz
