package plugins

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatchSubscribeReplaysCurrentValue(t *testing.T) {
	w := NewWatch(DownloadProgress{Kind: ProgressNotStarted, TotalBytes: 10})
	ch := w.Subscribe()

	select {
	case v := <-ch:
		require.Equal(t, ProgressNotStarted, v.Kind)
	case <-time.After(time.Second):
		t.Fatal("subscribe did not replay current value")
	}
}

func TestWatchClosesSubscribersOnTerminalPublish(t *testing.T) {
	w := NewWatch(DownloadProgress{Kind: ProgressNotStarted})
	ch := w.Subscribe()
	<-ch // drain initial replay

	w.Publish(DownloadProgress{Kind: ProgressDownloading, ReadBytes: 5, TotalBytes: 10})
	require.Equal(t, ProgressDownloading, (<-ch).Kind)

	w.Publish(DownloadProgress{Kind: ProgressCompleted, TotalBytes: 10, Path: "/tmp/x"})
	v, open := <-ch
	require.Equal(t, ProgressCompleted, v.Kind)

	_, open = <-ch
	require.False(t, open, "channel should close after terminal publish")
}

func TestDownloadTableRegisterAndGet(t *testing.T) {
	table := NewDownloadTable()
	w := NewWatch(DownloadProgress{Kind: ProgressNotStarted})
	table.Register("abc", w)

	got, ok := table.Get("abc")
	require.True(t, ok)
	require.Same(t, w, got)

	_, ok = table.Get("missing")
	require.False(t, ok)
}
