/*
Copyright 2022-2025 The nagare media authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package event

import (
	"context"
	"sync"
)

const (
	// TODO: make this configurable in the application
	DefaultBufferLen = 32
)

type Stream interface {
	Start(ctx context.Context)
	Pub(e Event)
	Sub() <-chan Event
	SubBuf(n int) <-chan Event
	Desub(ch <-chan Event)
}

// channelStream fans events out to all subscribers. Events published before
// Start sit in the inbox until the stream runs.
type channelStream struct {
	mtx     sync.RWMutex
	started bool

	inbox chan Event
	subs  map[<-chan Event]chan Event
}

func NewStream() Stream {
	return NewStreamBuf(DefaultBufferLen)
}

func NewStreamBuf(n int) Stream {
	return &channelStream{
		inbox: make(chan Event, n),
		subs:  make(map[<-chan Event]chan Event),
	}
}

func (cs *channelStream) Pub(e Event) {
	cs.inbox <- e
}

func (cs *channelStream) Sub() <-chan Event {
	return cs.SubBuf(DefaultBufferLen)
}

func (cs *channelStream) SubBuf(n int) <-chan Event {
	ch := make(chan Event, n)

	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	cs.subs[ch] = ch
	return ch
}

func (cs *channelStream) Desub(ch <-chan Event) {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()

	sub, ok := cs.subs[ch]
	if !ok {
		return
	}
	delete(cs.subs, ch)
	close(sub)
}

// Start launches the fan out loop. Subsequent calls are no-ops.
func (cs *channelStream) Start(ctx context.Context) {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	if cs.started {
		return
	}
	cs.started = true
	go cs.run(ctx)
}

func (cs *channelStream) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			cs.shutdown()
			return
		case e := <-cs.inbox:
			// fan out concurrently so a slow subscriber does not hold back
			// the inbox
			go cs.fanout(e)
		}
	}
}

func (cs *channelStream) fanout(e Event) {
	cs.mtx.RLock()
	defer cs.mtx.RUnlock()
	for _, ch := range cs.subs {
		ch <- e
	}
}

func (cs *channelStream) shutdown() {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	for ch := range cs.subs {
		close(cs.subs[ch])
		delete(cs.subs, ch)
	}
	close(cs.inbox)
}
