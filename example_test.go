package pollchan_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/joeycumines/go-pollchan"
)

func ExampleNew() {
	loop, err := pollchan.NewLoop()
	if err != nil {
		panic(err)
	}
	defer loop.Close()

	sender, channel, err := pollchan.New[string]()
	if err != nil {
		panic(err)
	}
	defer channel.Close()

	// the callback runs on the goroutine driving the loop, so no mutex is
	// required for anything it touches
	if _, err := pollchan.Insert(loop, channel, func(ev pollchan.Event[string]) {
		if ev.Closed() {
			fmt.Println("channel closed")
			loop.Stop()
			return
		}
		fmt.Println("received:", ev.Value())
	}); err != nil {
		panic(err)
	}

	// any number of goroutines may send, each holding its own clone
	go func() {
		defer sender.Close()
		for _, name := range []string{"Olivia", "Liam", "Emma"} {
			if err := sender.Send(name); err != nil {
				panic(err)
			}
		}
	}()

	if err := loop.Run(context.Background()); err != nil {
		panic(err)
	}

	// Output:
	// received: Olivia
	// received: Liam
	// received: Emma
	// channel closed
}

func ExampleNewSync() {
	loop, err := pollchan.NewLoop()
	if err != nil {
		panic(err)
	}
	defer loop.Close()

	sender, channel, err := pollchan.NewSync[int](2)
	if err != nil {
		panic(err)
	}
	defer channel.Close()

	if _, err := pollchan.Insert(loop, channel, func(ev pollchan.Event[int]) {
		if ev.Closed() {
			fmt.Println("channel closed")
			loop.Stop()
			return
		}
		fmt.Println("received:", ev.Value())
	}); err != nil {
		panic(err)
	}

	// fill the channel to capacity, then observe the non-blocking send fail
	if err := sender.Send(1); err != nil {
		panic(err)
	}
	if err := sender.Send(2); err != nil {
		panic(err)
	}
	if err := sender.TrySend(3); errors.Is(err, pollchan.ErrFull) {
		fmt.Println("channel full")
	}

	// a blocking send completes once the loop drains a slot
	go func() {
		defer sender.Close()
		if err := sender.Send(3); err != nil {
			panic(err)
		}
	}()

	if err := loop.Run(context.Background()); err != nil {
		panic(err)
	}

	// Output:
	// channel full
	// received: 1
	// received: 2
	// received: 3
	// channel closed
}

func ExampleNewPing() {
	loop, err := pollchan.NewLoop()
	if err != nil {
		panic(err)
	}
	defer loop.Close()

	ping, source, err := pollchan.NewPing()
	if err != nil {
		panic(err)
	}
	defer source.Close()
	defer ping.Close()

	if _, err := pollchan.Insert(loop, source, func(struct{}) {
		fmt.Println("pinged")
		loop.Stop()
	}); err != nil {
		panic(err)
	}

	// signals coalesce: three signals before the next dispatch produce a
	// single wakeup
	for i := 0; i < 3; i++ {
		if err := ping.Signal(); err != nil {
			panic(err)
		}
	}

	if err := loop.Run(context.Background()); err != nil {
		panic(err)
	}

	// Output:
	// pinged
}
