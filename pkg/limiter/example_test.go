package limiter

import (
	"context"
	"fmt"
	"time"
)

func ExampleRateLimiter() {
	rl, err := NewRateLimiter(
		Policy{MaxRequests: 2, Window: time.Minute},
		StaticBackend{
			Counters: NewLocalCounterStore(time.Minute),
			Bans:     NewLocalBanStore(),
		},
	)
	if err != nil {
		panic(err)
	}

	actor := ActorID(123)
	for i := 0; i < 3; i++ {
		dec := rl.Check(context.Background(), actor)
		fmt.Println(dec.Allow, dec.Reason)
	}
	// Output:
	// true ok
	// true ok
	// false throttled
}
