package config

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ChangeSource identifies which store produced a change event.
type ChangeSource string

const (
	ChangeSourceDetections ChangeSource = "detections"
	ChangeSourceOrders     ChangeSource = "orders"
	ChangeSourceSettings   ChangeSource = "settings"
)

// ChangeEvent is the payload broadcast on every mutation of detections,
// orders or settings. The reconciliation worker treats any event as a
// trigger; consumers must not rely on delivery being exactly-once.
type ChangeEvent struct {
	Source      ChangeSource `json:"source"`
	ReferenceId string       `json:"reference_id"`
	At          time.Time    `json:"at"`
}

const changeChannel = "azzahra:changes"

var (
	changeMu   sync.Mutex
	changeSubs []chan ChangeEvent
)

// SubscribeChanges registers a local subscriber. Events are delivered
// best-effort: a slow subscriber with a full buffer is skipped, which is
// fine because passes are coalescing and idempotent.
func SubscribeChanges(buffer int) <-chan ChangeEvent {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan ChangeEvent, buffer)
	changeMu.Lock()
	changeSubs = append(changeSubs, ch)
	changeMu.Unlock()
	return ch
}

func fanOutChange(ev ChangeEvent) {
	changeMu.Lock()
	subs := make([]chan ChangeEvent, len(changeSubs))
	copy(subs, changeSubs)
	changeMu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// PublishChange broadcasts a change event. With redis connected it goes over
// pub/sub so every instance (including this one, via the relay) observes it;
// without redis it is fanned out in-process only. Publishing is best-effort
// and never fails the owning mutation.
func PublishChange(c context.Context, ev ChangeEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if rdb == nil {
		fanOutChange(ev)
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		fanOutChange(ev)
		return
	}
	if err := rdb.Publish(c, changeChannel, payload).Err(); err != nil {
		GetLogger().WithFields(logrus.Fields{
			"module": "config",
			"source": ev.Source,
		}).Warn("change publish failed; delivering locally: " + err.Error())
		fanOutChange(ev)
	}
}

// StartChangeRelay pumps redis pub/sub messages into the local subscribers.
// It returns immediately when redis is not connected.
func StartChangeRelay(c context.Context) {
	if rdb == nil {
		return
	}
	sub := rdb.Subscribe(c, changeChannel)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-c.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				fanOutChange(ev)
			}
		}
	}()
}
