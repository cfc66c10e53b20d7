package natsclient

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/Lej77/tst-mark-tabs/errors"
)

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))

	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	assert.NotEmpty(t, c.name, "a connection name is generated by default")
	assert.Equal(t, -1, c.maxReconnects)
}

func TestNewClient_Options(t *testing.T) {
	c, err := NewClient("nats://localhost:4222",
		WithName("marktabsd"),
		WithMaxReconnects(3),
		WithReconnectWait(time.Second),
		WithTimeout(2*time.Second),
		WithDrainTimeout(4*time.Second))
	require.NoError(t, err)

	assert.Equal(t, "marktabsd", c.name)
	assert.Equal(t, 3, c.maxReconnects)
	assert.Equal(t, time.Second, c.reconnectWait)
	assert.Equal(t, 2*time.Second, c.timeout)
	assert.Equal(t, 4*time.Second, c.drainTimeout)
}

func TestConn_NotConnected(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	_, err = c.Conn()
	require.Error(t, err)
	assert.True(t, pkgerrors.IsTransient(err))
	assert.ErrorIs(t, err, pkgerrors.ErrNoConnection)

	_, err = c.JetStream()
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrNoConnection)
	assert.False(t, c.IsConnected())
}

func TestIsAlreadyExistsError(t *testing.T) {
	assert.False(t, isAlreadyExistsError(nil))
	assert.True(t, isAlreadyExistsError(stderrors.New("bucket name already in use")))
	assert.True(t, isAlreadyExistsError(stderrors.New("stream name already in use")))
	assert.False(t, isAlreadyExistsError(stderrors.New("timeout")))
}

func TestIsKVNotFoundError(t *testing.T) {
	assert.False(t, isKVNotFoundError(nil))
	assert.True(t, isKVNotFoundError(stderrors.New("nats: key not found")))
	assert.True(t, isKVNotFoundError(stderrors.New("err code 10037")))
	assert.False(t, isKVNotFoundError(stderrors.New("wrong last sequence")))
}
