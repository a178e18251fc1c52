package inventory_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"recipestock/internal/inventory"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func feed(t *testing.T, fm inventory.FeedMessage) kafkago.Message {
	t.Helper()
	value, err := json.Marshal(fm)
	require.NoError(t, err)
	return kafkago.Message{Key: []byte(fm.IngredientID), Value: value}
}

func TestMessageHandler_Restock(t *testing.T) {
	f := newFixture(t)
	h := inventory.NewMessageHandler(f.service, zap.NewNop())

	err := h.HandleMessage(context.Background(), feed(t, inventory.FeedMessage{
		Type: inventory.FeedRestock, IngredientID: "cheese", Quantity: dec("5"), Note: "delivery",
	}))
	require.NoError(t, err)

	cheese, err := f.service.Ingredient(context.Background(), "cheese")
	require.NoError(t, err)
	assert.True(t, cheese.OnHand.Equal(dec("15")))
}

func TestMessageHandler_MenuItemWithRecipe(t *testing.T) {
	f := newFixture(t)
	h := inventory.NewMessageHandler(f.service, zap.NewNop())
	ctx := context.Background()

	err := h.HandleMessage(ctx, feed(t, inventory.FeedMessage{
		Type:     inventory.FeedMenuItemUpserted,
		MenuItem: &inventory.MenuItem{ID: "C", Name: "Sandwich", Price: dec("60"), Active: true},
		Recipe:   []inventory.RecipeLine{{IngredientID: "bread", Quantity: dec("2")}},
	}))
	require.NoError(t, err)
	assert.Equal(t, int64(10), f.servings(t)["C"])

	require.NoError(t, h.HandleMessage(ctx, feed(t, inventory.FeedMessage{
		Type: inventory.FeedMenuItemRemoved, MenuItemID: "C",
	})))
	_, ok := f.service.MenuItem("C")
	assert.False(t, ok)
}

func TestMessageHandler_Rejects(t *testing.T) {
	f := newFixture(t)
	h := inventory.NewMessageHandler(f.service, zap.NewNop())
	ctx := context.Background()

	err := h.HandleMessage(ctx, kafkago.Message{Value: []byte("{not json")})
	assert.Error(t, err)

	err = h.HandleMessage(ctx, feed(t, inventory.FeedMessage{Type: "shrinkage"}))
	assert.ErrorContains(t, err, "unknown feed message type")

	err = h.HandleMessage(ctx, feed(t, inventory.FeedMessage{Type: inventory.FeedRestock, IngredientID: "saffron", Quantity: dec("1")}))
	var nf *inventory.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

type fakeConsumer struct {
	mu       sync.Mutex
	messages []kafkago.Message
}

func (c *fakeConsumer) ReadMessage(ctx context.Context) (*kafkago.Message, error) {
	c.mu.Lock()
	if len(c.messages) > 0 {
		msg := c.messages[0]
		c.messages = c.messages[1:]
		c.mu.Unlock()
		return &msg, nil
	}
	c.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeConsumer) Close() error { return nil }

type countingHandler struct {
	mu    sync.Mutex
	count int
	done  chan struct{}
	want  int
}

func (h *countingHandler) HandleMessage(context.Context, kafkago.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	if h.count == h.want {
		close(h.done)
	}
	return errors.New("ignored")
}

func TestConsumerService_SkipsFailedMessagesUntilCancelled(t *testing.T) {
	consumer := &fakeConsumer{messages: []kafkago.Message{{Value: []byte("a")}, {Value: []byte("b")}}}
	handler := &countingHandler{done: make(chan struct{}), want: 2}
	svc := inventory.NewConsumerService(consumer, handler, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- svc.Start(ctx) }()

	select {
	case <-handler.done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not called for every message")
	}
	cancel()

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
