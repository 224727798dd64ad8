package kyusub

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	msg := NewMessage([]byte("test message"))

	assert.Equal(t, "test message", string(msg.Body))
	assert.Equal(t, FormatBytes, msg.Format)
	require.NotNil(t, msg.Properties)
	assert.Empty(t, msg.Properties)
}

func TestNewTextMessage(t *testing.T) {
	msg := NewTextMessage("hello").WithProperty("STREAM", "2.13")

	assert.Equal(t, FormatText, msg.Format)
	assert.Equal(t, "2.13", msg.Properties["STREAM"])

	text, err := msg.Text()
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestMessage_Text(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
		want string
	}{
		{name: "bytes body", msg: &Message{ID: "ID:1", Body: []byte("x"), Format: FormatBytes}, want: "ID:1"},
		{name: "unknown body", msg: &Message{Format: FormatUnknown}},
		{name: "invalid utf-8", msg: &Message{Body: []byte{0xff, 0xfe}, Format: FormatText}},
		{name: "nil message", msg: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.msg.Text()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMessageFormat))

			var formatErr *MessageFormatError
			require.ErrorAs(t, err, &formatErr)
			assert.Equal(t, tt.want, formatErr.MessageID)
		})
	}
}

func TestMessage_EmptyText(t *testing.T) {
	text, err := (&Message{Format: FormatText}).Text()
	require.NoError(t, err)
	assert.Equal(t, "", text)
}

func TestMessage_WithPropertyOnZeroValue(t *testing.T) {
	msg := (&Message{}).WithProperty("priority", 4)
	assert.Equal(t, 4, msg.Properties["priority"])
}

func TestMessage_RawAccessors(t *testing.T) {
	msg := NewMessage([]byte("test"))
	assert.Nil(t, msg.Raw())

	rawValue := "test-raw"
	msg.SetRaw(rawValue)
	assert.Equal(t, rawValue, msg.Raw())
}

func TestWrapError(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := WrapError(ErrConnection, cause)

	assert.ErrorIs(t, err, ErrConnection)
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, WrapError(ErrConnection, nil))
}
