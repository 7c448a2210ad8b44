// Package event provides the subscription engine of the node.
//
// Components register interest in an event key and are notified, on the
// execution lane they chose, whenever something publishes under that key.
// The engine never owns its subscribers: it keeps weak references, and a
// subscriber that is garbage collected simply stops receiving
// notifications. Its registrations are pruned lazily by the next Notify
// for the key.
//
// # Engine
//
// An Engine is parameterized by the key type K, the argument type A and
// the receiver type R, whose pointer implements Receiver:
//
//	type roundWatcher struct{ rounds int }
//
//	func (w *roundWatcher) OnNotify(set event.SetID, key node.EventType, r node.RoundSwitch) {
//		w.rounds++
//	}
//
//	engine := event.NewEngine[node.EventType, node.RoundSwitch, roundWatcher](d)
//	h := engine.Subscribe(lane, 1, node.OnRoundSwitch, watcher)
//	engine.Notify(node.OnRoundSwitch, round)
//	_ = engine.Unsubscribe(h)
//
// # Notification
//
// Notify resolves the registrations under a read lock and releases it
// before handing any task to the dispatcher. Each task carries its own
// copy of the arguments (a deep copy when A implements Cloner) and checks,
// when it runs, that the subscriber is still alive and still registered.
//
// Delivery order follows the dispatcher: the inline dispatcher runs tasks
// synchronously in registration order, the pooled dispatcher preserves
// submission order per lane only.
//
// # Subscribers and the Manager
//
// Subscriber bundles an owned object with a callback and serializes
// callbacks on a mutex. Manager shares one dispatcher between engines and
// creates one engine per key/argument/receiver type combination with
// EngineFor.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Subscribe and
// Unsubscribe may be called from inside a notification callback.
package event
