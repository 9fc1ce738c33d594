package stream

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func snap(machine string, tick uint64) Snapshot {
	return Snapshot{MachineID: machine, Tick: tick}
}

func TestPublishReachesEverySubscriber(t *testing.T) {
	b := NewBroadcaster(4)
	a := b.Subscribe()
	c := b.Subscribe()
	require.Equal(t, 2, b.Len())

	b.Publish(snap("m1", 1), snap("m2", 1))
	for _, sub := range []*Subscription{a, c} {
		assert.Equal(t, "m1", (<-sub.C()).MachineID)
		assert.Equal(t, "m2", (<-sub.C()).MachineID)
	}
	b.Close()
	_, ok := <-a.C()
	assert.False(t, ok)
}

func TestFullQueueDropsOldest(t *testing.T) {
	b := NewBroadcaster(3)
	sub := b.Subscribe()
	defer sub.Close()

	for tick := uint64(1); tick <= 10; tick++ {
		b.Publish(snap("m1", tick))
	}
	assert.Equal(t, uint64(7), sub.Dropped())
	var ticks []uint64
	for i := 0; i < 3; i++ {
		ticks = append(ticks, (<-sub.C()).Tick)
	}
	assert.Equal(t, []uint64{8, 9, 10}, ticks)
}

func TestSaturatedSubscriberDoesNotBlockPublisher(t *testing.T) {
	b := NewBroadcaster(1)
	stuck := b.Subscribe()
	defer stuck.Close()
	live := b.Subscribe()
	defer live.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for tick := uint64(0); tick < 10000; tick++ {
			b.Publish(snap("m1", tick))
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a saturated subscriber")
	}
	assert.Equal(t, uint64(9999), stuck.Dropped())
	assert.Equal(t, uint64(9999), (<-live.C()).Tick)
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	b := NewBroadcaster(2)
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		var tick uint64
		for {
			select {
			case <-stop:
				return
			default:
				tick++
				b.Publish(snap("m1", tick))
			}
		}
	}()

	for i := 0; i < 200; i++ {
		sub := b.Subscribe()
		if i%2 == 0 {
			<-sub.C()
		}
		sub.Close()
		sub.Close()
	}
	close(stop)
	wg.Wait()
	assert.Zero(t, b.Len())
}

func TestMachineFilter(t *testing.T) {
	b := NewBroadcaster(8)
	defer b.Close()
	sub := b.Subscribe("m2")

	for i := 1; i <= 3; i++ {
		b.Publish(snap(fmt.Sprintf("m%d", i), 1))
	}
	got := <-sub.C()
	assert.Equal(t, "m2", got.MachineID)
	assert.Len(t, sub.C(), 0)
}

func TestSubscribeAfterClose(t *testing.T) {
	b := NewBroadcaster(0)
	b.Close()
	sub := b.Subscribe()
	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Zero(t, b.Len())

	var nilB *Broadcaster
	nilB.Publish(snap("m1", 1))
	assert.Nil(t, nilB.Subscribe())
}
