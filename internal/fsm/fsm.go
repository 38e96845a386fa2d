// Package fsm runs sequential state machines where each state returns the next.
package fsm

import "context"

// State takes args and returns the args for the next state, the next State
// to run or an error. Returning a nil State ends the machine successfully.
type State[T any] func(ctx context.Context, args T) (T, State[T], error)

// Observer is called with the args returned by every state that succeeded.
type Observer[T any] func(args T)

// Run executes states starting at start until one returns a nil State or an
// error. The context is checked before each state, never during one.
func Run[T any](ctx context.Context, args T, start State[T], observers ...Observer[T]) (T, error) {
	var err error

	current := start

	for current != nil {
		if err := ctx.Err(); err != nil {
			return args, err
		}

		args, current, err = current(ctx, args)
		if err != nil {
			return args, err
		}

		for _, observe := range observers {
			observe(args)
		}
	}

	return args, nil
}
