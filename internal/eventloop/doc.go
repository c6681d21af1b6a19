// Package eventloop provides the single-goroutine task loop that the DMX
// widget engine runs on.
//
// The widget engine is written as a reactor: it never blocks and keeps all
// protocol progress as state. Everything that touches it (serial frames,
// MQTT requests, discovery polls) is posted to one Loop so the engine needs
// no locks.
//
//	loop := eventloop.New(eventloop.LoopOptions{Logger: log})
//	go loop.Run(ctx)
//
//	loop.Execute(func() { engine.RunDiscovery() })
//	id := loop.RegisterRepeatingTimeout(100*time.Millisecond, func() bool {
//	    return sendStatusPoll() == nil
//	})
//	loop.RemoveTimeout(id)
package eventloop
