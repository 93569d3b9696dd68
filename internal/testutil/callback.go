package testutil

import (
	"testing"
	"time"

	"github.com/meigma/transfer"
)

// Callback returns a transfer.Callback that delivers its results on the
// returned channel.
func Callback() (transfer.Callback, chan *transfer.SparseData) {
	ch := make(chan *transfer.SparseData, 16)
	return func(sd *transfer.SparseData) {
		ch <- sd
	}, ch
}

// Await returns the next callback result, failing the test if none
// arrives in time.
func Await(tb testing.TB, ch <-chan *transfer.SparseData) *transfer.SparseData {
	tb.Helper()
	select {
	case sd := <-ch:
		return sd
	case <-time.After(5 * time.Second):
		tb.Fatal("timed out waiting for callback")
		return nil
	}
}
