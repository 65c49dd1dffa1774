package browser

import "context"

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context) (Driver, error)

func (f FactoryFunc) NewDriver(ctx context.Context) (Driver, error) {
	return f(ctx)
}
