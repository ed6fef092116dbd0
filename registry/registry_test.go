package registry_test

import (
	"reflect"
	"sync"
	"testing"

	"github.com/GabrielCarpr/eventcore/registry"
	"github.com/stretchr/testify/suite"
)

type OrderPlaced struct {
	OrderID string
}

type orderShipped struct{}

func (orderShipped) EventType() string {
	return "order.shipped"
}

type PlaceOrder struct{}

type RegistrySuite struct {
	suite.Suite

	r *registry.Registry
}

func TestRegistry(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.r = registry.New()
}

func (s *RegistrySuite) TestRegistersUnderShortName() {
	s.r.Register(OrderPlaced{})

	t, err := s.r.Resolve("OrderPlaced")
	s.Require().NoError(err)
	s.Equal(reflect.TypeOf(OrderPlaced{}), t)
	s.True(s.r.IsRegistered(&OrderPlaced{}))
}

func (s *RegistrySuite) TestUnknownTagIsUnresolvable() {
	_, err := s.r.Resolve("Unknown")
	s.ErrorIs(err, registry.ErrUnresolvableType)
}

func (s *RegistrySuite) TestTaggedTypesChooseTheirTag() {
	s.r.Register(&orderShipped{})

	tag, err := s.r.TagOf(orderShipped{})
	s.Require().NoError(err)
	s.Equal("order.shipped", tag)
}

func (s *RegistrySuite) TestUnregister() {
	s.r.Register(OrderPlaced{})
	s.Require().NoError(s.r.Unregister(OrderPlaced{}))
	s.False(s.r.IsRegistered(OrderPlaced{}))

	s.ErrorIs(s.r.Unregister(OrderPlaced{}), registry.ErrNotRegistered)
}

func (s *RegistrySuite) TestReRegisteringOverwrites() {
	s.r.Preload(map[string]interface{}{"OrderPlaced": orderShipped{}})
	s.r.Register(OrderPlaced{})

	t, err := s.r.Resolve("OrderPlaced")
	s.Require().NoError(err)
	s.Equal(reflect.TypeOf(OrderPlaced{}), t)

	_, err = s.r.TagOf(orderShipped{})
	s.ErrorIs(err, registry.ErrNotRegistered)
}

func (s *RegistrySuite) TestPreloadUsesExplicitTags() {
	s.r.Preload(map[string]interface{}{
		"order-placed.v1": OrderPlaced{},
		"shipped":         reflect.TypeOf(orderShipped{}),
	})

	tag, err := s.r.TagOf(&OrderPlaced{})
	s.Require().NoError(err)
	s.Equal("order-placed.v1", tag)

	t, err := s.r.Resolve("shipped")
	s.Require().NoError(err)
	s.Equal(reflect.TypeOf(orderShipped{}), t)
	s.Len(s.r.Map(), 2)
}

func (s *RegistrySuite) TestTagOfUnregistered() {
	_, err := s.r.TagOf(OrderPlaced{})
	s.ErrorIs(err, registry.ErrNotRegistered)
}

func (s *RegistrySuite) TestNewEvent() {
	s.r.Register(OrderPlaced{})
	s.r.RegisterKind(registry.Command, PlaceOrder{})

	v, err := s.r.NewEvent("OrderPlaced")
	s.Require().NoError(err)
	s.IsType(&OrderPlaced{}, v)

	_, err = s.r.NewEvent("PlaceOrder")
	s.ErrorIs(err, registry.ErrNotAnEvent)
}

func (s *RegistrySuite) TestConcurrentUse() {
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.r.Register(OrderPlaced{})
			_, _ = s.r.Resolve("OrderPlaced")
		}()
	}
	wg.Wait()
	s.True(s.r.IsRegistered(OrderPlaced{}))
}
