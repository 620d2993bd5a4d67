/*
Package events provides an in-memory publish/subscribe broker for engine
lifecycle events.

Grid, worker, function, task, and deploy transitions each publish a typed
event. Subscribers receive events over buffered channels; a subscriber that
falls behind has events dropped rather than blocking the broker.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(events.New(events.EventTaskClaimed, "task claimed",
		"task_uid", taskUID, "worker_uid", workerUID))

	for event := range sub {
		fmt.Println(event.Type, event.Message)
	}

# Delivery Semantics

  - At-most-once: a full subscriber buffer drops the event
  - No ordering guarantee across subscribers
  - Publish after Stop is a no-op

Events are a notification surface for the API's event stream and the logs,
not a source of truth. All state lives in pkg/storage.
*/
package events
