package amqp10

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/Azure/go-amqp"

	"github.com/venderneutral/kyusub"
)

// Message annotation set by JMS clients to record the message type.
const jmsMsgTypeAnnotation = "x-opt-jms-msg-type"

// JMS message type codes carried in x-opt-jms-msg-type.
const (
	jmsMessage       = 0
	jmsObjectMessage = 1
	jmsMapMessage    = 2
	jmsBytesMessage  = 3
	jmsStreamMessage = 4
	jmsTextMessage   = 5
)

// convertMessage copies an AMQP message into a kyusub.Message and keeps the
// original for settlement.
func convertMessage(amqpMsg *amqp.Message) *kyusub.Message {
	msg := &kyusub.Message{
		Properties: make(map[string]any, len(amqpMsg.ApplicationProperties)),
	}

	if amqpMsg.Properties != nil && amqpMsg.Properties.MessageID != nil {
		msg.ID = fmt.Sprintf("%v", amqpMsg.Properties.MessageID)
	}

	for k, v := range amqpMsg.ApplicationProperties {
		msg.Properties[k] = v
	}

	msg.Body, msg.Format = body(amqpMsg)
	msg.SetRaw(amqpMsg)
	return msg
}

// body extracts the payload. JMS TextMessages arrive as an amqp-value
// string; other producers may send text in data sections labelled with a
// text content type.
func body(m *amqp.Message) ([]byte, kyusub.BodyFormat) {
	typ, typed := jmsType(m)

	switch v := m.Value.(type) {
	case string:
		return []byte(v), kyusub.FormatText
	case []byte:
		return v, kyusub.FormatBytes
	case nil:
	default:
		return nil, kyusub.FormatUnknown
	}

	if len(m.Data) == 0 {
		if typed && typ == jmsTextMessage {
			return nil, kyusub.FormatText
		}
		return nil, kyusub.FormatUnknown
	}

	data := bytes.Join(m.Data, nil)
	switch {
	case typed && typ == jmsTextMessage:
		return data, kyusub.FormatText
	case typed:
		return data, kyusub.FormatBytes
	case isTextContentType(m):
		return data, kyusub.FormatText
	}
	return data, kyusub.FormatBytes
}

func jmsType(m *amqp.Message) (int64, bool) {
	for k, v := range m.Annotations {
		if fmt.Sprint(k) != jmsMsgTypeAnnotation {
			continue
		}
		switch n := v.(type) {
		case int8:
			return int64(n), true
		case uint8:
			return int64(n), true
		case int16:
			return int64(n), true
		case int32:
			return int64(n), true
		case int64:
			return n, true
		case int:
			return int64(n), true
		}
	}
	return 0, false
}

func isTextContentType(m *amqp.Message) bool {
	if m.Properties == nil || m.Properties.ContentType == nil {
		return false
	}
	ct := strings.ToLower(string(*m.Properties.ContentType))
	return strings.HasPrefix(ct, "text/") || strings.HasPrefix(ct, "application/json")
}
