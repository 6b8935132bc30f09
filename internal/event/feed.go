// Package event implements a one-to-many event feed modeled on
// go-ethereum's event.Feed: producers call Send, subscribers receive on
// a channel they own, and Unsubscribe is safe to call concurrently with
// Send.
package event

import (
	"errors"
	"reflect"
	"sync"
)

var errBadChannel = errors.New("event: Subscribe argument does not have sendable channel type")

// Feed implements one-to-many subscription. The zero value is ready to
// use. All types sent through a given Feed must be identical.
type Feed struct {
	once      sync.Once
	sendLock  chan struct{} // sendLock has a one-element buffer and is empty when held
	removeSub chan interface{}
	mu        sync.Mutex
	inbox     caseList
	etype     reflect.Type
	cases     caseList
}

func (f *Feed) init(etype reflect.Type) {
	f.etype = etype
	f.sendLock = make(chan struct{}, 1)
	f.sendLock <- struct{}{}
	f.removeSub = make(chan interface{})
	f.cases = caseList{{Chan: reflect.ValueOf(f.removeSub), Dir: reflect.SelectRecv}}
}

// Subscribe adds a channel to the feed. Future sends will be delivered
// on the channel until the subscription is canceled. All channels added
// must have the same element type.
func (f *Feed) Subscribe(channel interface{}) Subscription {
	chanval := reflect.ValueOf(channel)
	chantyp := chanval.Type()
	if chantyp.Kind() != reflect.Chan || chantyp.ChanDir()&reflect.SendDir == 0 {
		panic(errBadChannel)
	}
	sub := &feedSub{feed: f, channel: chanval, err: make(chan error, 1)}

	f.once.Do(func() { f.init(chantyp.Elem()) })
	if f.etype != chantyp.Elem() {
		panic(errBadChannel)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	cas := reflect.SelectCase{Dir: reflect.SelectSend, Chan: chanval}
	f.inbox = append(f.inbox, cas)
	return sub
}

func (f *Feed) remove(sub *feedSub) {
	ch := sub.channel.Interface()
	f.mu.Lock()
	index := f.inbox.find(ch)
	if index != -1 {
		f.inbox = f.inbox.delete(index)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	select {
	case f.removeSub <- ch:
	case <-f.sendLock:
		f.cases = f.cases.delete(f.cases.find(ch))
		f.sendLock <- struct{}{}
	}
}

// Send delivers to all subscribed channels concurrently. It returns the
// number of subscribers that the value was sent to.
func (f *Feed) Send(value interface{}) (nsent int) {
	rvalue := reflect.ValueOf(value)

	f.once.Do(func() { f.init(rvalue.Type()) })
	if f.etype != rvalue.Type() {
		panic(errors.New("event: Send argument does not match subscribed channel type"))
	}

	<-f.sendLock

	f.mu.Lock()
	f.cases = append(f.cases, f.inbox...)
	f.inbox = nil
	f.mu.Unlock()

	for i := 1; i < len(f.cases); i++ {
		f.cases[i].Send = rvalue
	}

	cases := f.cases
	for {
		for i := 1; i < len(cases); i++ {
			if cases[i].Chan.TrySend(rvalue) {
				nsent++
				cases = cases.deactivate(i)
				i--
			}
		}
		if len(cases) == 1 {
			break
		}
		cases[0].Chan = reflect.ValueOf(f.removeSub)
		chosen, recv, _ := reflect.Select(cases)
		if chosen == 0 {
			index := f.cases.find(recv.Interface())
			f.cases = f.cases.delete(index)
			if index >= 0 && index < len(cases) {
				cases = f.cases[:len(cases)-1]
			}
			continue
		}
		nsent++
		cases = cases.deactivate(chosen)
	}

	for i := range f.cases {
		f.cases[i].Send = reflect.Value{}
	}
	f.sendLock <- struct{}{}
	return nsent
}

// TrySend delivers to every currently-subscribed channel without
// blocking; subscribers whose channel is full are skipped rather than
// waited on. Used where a producer must never stall (§5 — the device
// manager and plugin registry publish with it, so the connection layer
// never blocks on a slow subscriber).
func (f *Feed) TrySend(value interface{}) (nsent int) {
	rvalue := reflect.ValueOf(value)
	f.once.Do(func() { f.init(rvalue.Type()) })
	if f.etype != rvalue.Type() {
		panic(errors.New("event: TrySend argument does not match subscribed channel type"))
	}

	<-f.sendLock
	f.mu.Lock()
	f.cases = append(f.cases, f.inbox...)
	f.inbox = nil
	f.mu.Unlock()

	for _, c := range f.cases[1:] {
		if c.Chan.TrySend(rvalue) {
			nsent++
		}
	}
	f.sendLock <- struct{}{}
	return nsent
}

type feedSub struct {
	feed    *Feed
	channel reflect.Value
	errOnce sync.Once
	err     chan error
}

func (sub *feedSub) Unsubscribe() {
	sub.errOnce.Do(func() {
		sub.feed.remove(sub)
		close(sub.err)
	})
}

func (sub *feedSub) Err() <-chan error {
	return sub.err
}

type caseList []reflect.SelectCase

func (cs caseList) find(channel interface{}) int {
	for i, cas := range cs {
		if cas.Chan.Interface() == channel {
			return i
		}
	}
	return -1
}

func (cs caseList) delete(index int) caseList {
	return append(cs[:index], cs[index+1:]...)
}

func (cs caseList) deactivate(index int) caseList {
	last := len(cs) - 1
	cs[index], cs[last] = cs[last], cs[index]
	return cs[:last]
}
