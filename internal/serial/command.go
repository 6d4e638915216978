package serial

import (
	"encoding/json"
	"fmt"
	"sync"

	"bioreactor-controller/internal/model"
)

// Command sets one actuator on the device.
type Command struct {
	Actuator model.Actuator
	Value    int
}

// MarshalJSON renders the wire form {"cmd":"set","<actuator>":0|1}.
func (c Command) MarshalJSON() ([]byte, error) {
	key, err := json.Marshal(string(c.Actuator))
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf(`{"cmd":"set",%s:%d}`, key, c.Value)), nil
}

func (c Command) String() string {
	return fmt.Sprintf("%s=%d", c.Actuator, c.Value)
}

// CommandQueue is an unbounded FIFO with many producers and a single consumer,
// the link writer.
type CommandQueue struct {
	mu    sync.Mutex
	items []Command
}

// NewCommandQueue returns an empty queue.
func NewCommandQueue() *CommandQueue {
	return &CommandQueue{}
}

// Push appends a command.
func (q *CommandQueue) Push(c Command) {
	q.mu.Lock()
	q.items = append(q.items, c)
	q.mu.Unlock()
}

// Set is shorthand for Push(Command{a, v}).
func (q *CommandQueue) Set(a model.Actuator, v int) {
	q.Push(Command{Actuator: a, Value: v})
}

// TryPop removes the oldest command without blocking.
func (q *CommandQueue) TryPop() (Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Command{}, false
	}
	c := q.items[0]
	q.items[0] = Command{}
	q.items = q.items[1:]
	return c, true
}

// Pending returns the newest queued value for a, if a command for it is waiting.
func (q *CommandQueue) Pending(a model.Actuator) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := len(q.items) - 1; i >= 0; i-- {
		if q.items[i].Actuator == a {
			return q.items[i].Value, true
		}
	}
	return 0, false
}

// Len returns the number of waiting commands.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns everything queued.
func (q *CommandQueue) Drain() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}
