package domain

// Operation is one business operation bound to its arguments.
type Operation func(Stock) (Stock, Event, error)

// Changes collects the events produced while a use case works on a stock.
// It is owned by the caller; Drain hands the events over exactly once.
type Changes struct {
	events []Event
}

// Apply runs op against s. On failure s is returned unchanged and nothing is
// recorded.
func (c *Changes) Apply(s Stock, op Operation) (Stock, error) {
	next, event, err := op(s)
	if err != nil {
		return s, err
	}
	c.events = append(c.events, event)
	return next, nil
}

func (c *Changes) Len() int { return len(c.events) }

func (c *Changes) Drain() []Event {
	events := c.events
	c.events = nil
	return events
}
