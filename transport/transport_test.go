package transport

import (
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransport_Struct(t *testing.T) {
	position := func(*message.Message) (int32, int64, bool) { return 2, 40, true }
	tr := Transport{
		Publisher:  &mockPublisher{},
		Subscriber: &mockSubscriber{},
		Position:   position,
	}

	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)
	partition, offset, ok := tr.Position(message.NewMessage("id", nil))
	assert.True(t, ok)
	assert.Equal(t, int32(2), partition)
	assert.Equal(t, int64(40), offset)
}

func TestTransport_Close(t *testing.T) {
	t.Run("closes subscriber and publisher", func(t *testing.T) {
		pub := &mockPublisher{}
		sub := &mockSubscriber{}
		require.NoError(t, Transport{Publisher: pub, Subscriber: sub}.Close())
		assert.Equal(t, 1, pub.closed)
		assert.Equal(t, 1, sub.closed)
	})

	t.Run("reports the first error", func(t *testing.T) {
		pub := &mockPublisher{closeErr: errors.New("pub")}
		sub := &mockSubscriber{closeErr: errors.New("sub")}
		err := Transport{Publisher: pub, Subscriber: sub}.Close()
		require.Error(t, err)
		assert.Equal(t, "sub", err.Error())
		assert.Equal(t, 1, pub.closed)
	})

	t.Run("shared pubsub is closed once", func(t *testing.T) {
		ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
		require.NoError(t, Transport{Publisher: ps, Subscriber: ps}.Close())
	})

	t.Run("zero transport", func(t *testing.T) {
		assert.NoError(t, Transport{}.Close())
	})
}

func TestConfig_Interface(t *testing.T) {
	var _ Config = (*mockConfig)(nil)

	cfg := &mockConfig{pubSubSystem: "test"}
	assert.Equal(t, "test", cfg.GetPubSubSystem())
}

type testProvider struct{}

func (testProvider) Capabilities() Capabilities {
	return Capabilities{Name: "test"}
}

func TestCapabilitiesProvider_Interface(t *testing.T) {
	var _ CapabilitiesProvider = testProvider{}

	assert.Equal(t, "test", testProvider{}.Capabilities().Name)
}
