package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFeedSendDeliversToAllSubscribers(t *testing.T) {
	var feed Feed
	a := make(chan int, 1)
	b := make(chan int, 1)
	subA := feed.Subscribe(a)
	subB := feed.Subscribe(b)
	defer subA.Unsubscribe()
	defer subB.Unsubscribe()

	n := feed.Send(42)
	require.Equal(t, 2, n)
	require.Equal(t, 42, <-a)
	require.Equal(t, 42, <-b)
}

func TestFeedUnsubscribeStopsDelivery(t *testing.T) {
	var feed Feed
	ch := make(chan int, 1)
	sub := feed.Subscribe(ch)
	sub.Unsubscribe()

	n := feed.Send(1)
	require.Equal(t, 0, n)
}

func TestFeedTrySendSkipsFullSubscribers(t *testing.T) {
	var feed Feed
	full := make(chan int) // unbuffered, nobody reading -> always full
	sub := feed.Subscribe(full)
	defer sub.Unsubscribe()

	n := feed.TrySend(7)
	require.Equal(t, 0, n)
}

func TestFeedConcurrentSubscribeAndSend(t *testing.T) {
	var feed Feed
	var wg sync.WaitGroup
	done := make(chan struct{})

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := make(chan int, 16)
			sub := feed.Subscribe(ch)
			defer sub.Unsubscribe()
			for {
				select {
				case <-ch:
				case <-done:
					return
				}
			}
		}()
	}

	for i := 0; i < 100; i++ {
		feed.Send(i)
	}
	close(done)
	wg.Wait()
}

func TestFeedMismatchedTypePanics(t *testing.T) {
	var feed Feed
	ch := make(chan int, 1)
	sub := feed.Subscribe(ch)
	defer sub.Unsubscribe()

	require.Panics(t, func() {
		feed.Send("not an int")
	})
}

func TestFeedSendWithNoSubscribersReturnsZero(t *testing.T) {
	var feed Feed
	require.Equal(t, 0, feed.Send(struct{}{}))
}

func TestFeedSendBlocksUntilSlowSubscriberReceives(t *testing.T) {
	var feed Feed
	ch := make(chan int) // unbuffered
	sub := feed.Subscribe(ch)
	defer sub.Unsubscribe()

	sent := make(chan int, 1)
	go func() {
		sent <- feed.Send(9)
	}()

	select {
	case <-sent:
		t.Fatal("Send returned before the subscriber received")
	case <-time.After(20 * time.Millisecond):
	}

	require.Equal(t, 9, <-ch)
	require.Equal(t, 1, <-sent)
}
