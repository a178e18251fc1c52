package app

import (
	"recipestock/internal/api"
	"recipestock/internal/inventory"
	"recipestock/internal/order"

	"github.com/gin-gonic/gin"
)

// ServiceFactory creates business logic services with their dependencies
type ServiceFactory struct {
	container *Container
}

func NewServiceFactory(container *Container) *ServiceFactory {
	return &ServiceFactory{
		container: container,
	}
}

func (f *ServiceFactory) CreateInventoryService() *inventory.Service {
	c := f.container
	return inventory.NewService(c.Storage(), c.Publisher(), c.Logger(), c.Tracer(), c.Config().Inventory.LockTimeout)
}

func (f *ServiceFactory) CreateOrderManager(inv *inventory.Service) (*order.Manager, error) {
	c := f.container
	return order.NewManager(inv, c.Storage(), c.Publisher(), c.Logger(), c.Tracer(), c.Meter(), c.Config().Inventory.LockTimeout)
}

// CreateRouter builds the HTTP router. Settings are read from the loaded
// configuration on every confirmation.
func (f *ServiceFactory) CreateRouter(inv *inventory.Service, orders *order.Manager) *gin.Engine {
	c := f.container
	settings := func() order.Settings {
		return order.Settings{MarkPaidOnConfirm: c.Config().Orders.MarkPaidOnConfirm}
	}
	return api.NewRouter(api.NewAPIHandler(inv, orders, settings, c.Logger()), c.Logger())
}

// CreateConsumerService returns nil when Kafka is disabled.
func (f *ServiceFactory) CreateConsumerService(inv *inventory.Service) inventory.ConsumerService {
	c := f.container
	if c.MessageConsumer() == nil {
		return nil
	}
	handler := inventory.NewMessageHandler(inv, c.Logger())
	return inventory.NewConsumerService(c.MessageConsumer(), handler, c.Logger())
}
