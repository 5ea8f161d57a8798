package main

import "context"

// notifyRescan is a no-op: Windows has no SIGUSR1.
func notifyRescan(context.Context, func()) func() {
	return func() {}
}
