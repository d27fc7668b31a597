package eventbus

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/reportgrid/pkg/serrors"
)

// EventBus dispatches events to handlers by signature: a handler receives an
// event when its parameter list accepts the published arguments.
type EventBus interface {
	Publish(args ...any)
	PublishE(args ...any) error
	// Subscribe registers handler and returns a func that removes it.
	Subscribe(handler any) (unsubscribe func())
	Clear()
	SubscribersCount() int
}

var (
	ErrNoSubscribers        = serrors.NewError("EVENTBUS_NO_SUBSCRIBERS", "no matching subscribers", "")
	ErrInvalidHandlerReturn = serrors.NewError("EVENTBUS_INVALID_HANDLER_RETURN", "invalid handler return signature", "")
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

type subscriber struct {
	id      uint64
	handler reflect.Value
}

type bus struct {
	log *logrus.Entry

	mu          sync.RWMutex
	nextID      uint64
	subscribers []subscriber
}

func NewEventPublisher(log *logrus.Entry) EventBus {
	return &bus{log: log}
}

// MatchSignature reports whether handler can be called with args.
func MatchSignature(handler any, args []any) bool {
	t := reflect.TypeOf(handler)
	if t == nil || t.Kind() != reflect.Func || t.NumIn() != len(args) {
		return false
	}
	for i, arg := range args {
		param := t.In(i)
		if arg == nil {
			switch param.Kind() {
			case reflect.Interface, reflect.Ptr, reflect.Map, reflect.Slice:
				continue
			}
			return false
		}
		if !reflect.TypeOf(arg).AssignableTo(param) {
			return false
		}
	}
	return true
}

func (b *bus) snapshot() []subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]subscriber(nil), b.subscribers...)
}

func values(handler reflect.Type, args []any) []reflect.Value {
	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		if arg == nil {
			in[i] = reflect.Zero(handler.In(i))
			continue
		}
		in[i] = reflect.ValueOf(arg)
	}
	return in
}

// call runs one handler, turning panics and error returns into an error.
func call(s subscriber, args []any) (err error) {
	t := s.handler.Type()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("eventbus: handler %s panicked: %v", t.String(), r)
		}
	}()
	out := s.handler.Call(values(t, args))
	switch {
	case len(out) == 0:
		return nil
	case len(out) > 1:
		return fmt.Errorf("%w: handler %s returned %d values", ErrInvalidHandlerReturn, t.String(), len(out))
	case out[0].Type() != errorType:
		return fmt.Errorf("%w: handler %s return type is %s", ErrInvalidHandlerReturn, t.String(), out[0].Type().String())
	case out[0].IsNil():
		return nil
	}
	return out[0].Interface().(error)
}

// Publish delivers args to every matching handler. Failures are logged and
// never stop later handlers.
func (b *bus) Publish(args ...any) {
	handled := false
	for _, s := range b.snapshot() {
		if !MatchSignature(s.handler.Interface(), args) {
			continue
		}
		if err := call(s, args); err != nil {
			if b.log != nil {
				b.log.WithError(err).Errorf("eventbus: handler failed for args %v", args)
			}
			continue
		}
		handled = true
	}
	if !handled && b.log != nil {
		b.log.Warnf("eventbus.Publish: no matching subscribers for event with args: %v", args)
	}
}

// PublishE is Publish that reports failures to the caller.
func (b *bus) PublishE(args ...any) error {
	handled := false
	var errs []error
	for _, s := range b.snapshot() {
		if !MatchSignature(s.handler.Interface(), args) {
			continue
		}
		handled = true
		if err := call(s, args); err != nil {
			errs = append(errs, err)
		}
	}
	if !handled {
		return ErrNoSubscribers
	}
	return errors.Join(errs...)
}

func (b *bus) Subscribe(handler any) func() {
	v := reflect.ValueOf(handler)
	if v.Kind() != reflect.Func {
		panic("handler must be a function")
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers = append(b.subscribers, subscriber{id: id, handler: v})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subscribers {
			if s.id == id {
				b.subscribers = append(b.subscribers[:i:i], b.subscribers[i+1:]...)
				return
			}
		}
	}
}

func (b *bus) Clear() {
	b.mu.Lock()
	b.subscribers = nil
	b.mu.Unlock()
}

func (b *bus) SubscribersCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
