// Package tui provides the terminal view behind the watch command.
//
// The view is read-only. It polls a running server's status endpoint and
// shows the current attempt's phase, criterion progress, and the failures
// of the last completed round. Users quit with 'q' or Ctrl+C.
//
// Usage:
//
//	fetch := tui.HTTPFetcher(http.DefaultClient, "http://localhost:5001")
//	program, _ := tui.NewWatchProgram(fetch, time.Second)
//	if _, err := program.Run(); err != nil {
//	    return err
//	}
package tui
