// Package azure registers the Azure Service Bus provider.
//
// Service Bus speaks AMQP 1.0. Queues are addressed by name; topics are
// consumed through a subscription entity, so Topic requires Subscription.
// Filtering is configured as subscription rules on the namespace, not as
// link selectors, so a non-empty selector is rejected.
//
// # Connection String Format
//
// Azure Service Bus connection strings should follow this format:
//
//	amqps://<policy-name>:<access-key>@<namespace>.servicebus.windows.net
//
// # Topic Subscriptions
//
//   - Topic: "my-topic"
//   - Subscription: "my-topic/Subscriptions/my-subscription"
//
// The subscription path is constructed from Topic and Subscription in the
// configuration.
//
// # Usage
//
//	import _ "github.com/venderneutral/kyusub/providers/azure"
package azure

import (
	"errors"
	"fmt"

	"github.com/venderneutral/kyusub"
	"github.com/venderneutral/kyusub/providers/amqp10"
)

func init() {
	kyusub.RegisterProvider(kyusub.ProviderAzure, NewFactory())
}

// NewFactory returns an AMQP 1.0 factory with Service Bus addressing.
func NewFactory() *amqp10.Factory {
	return &amqp10.Factory{
		Address:   SourceAddress,
		Selectors: false,
	}
}

// SourceAddress constructs the AMQP source address for Azure Service Bus.
func SourceAddress(dest kyusub.Destination, cfg *kyusub.Config) (string, error) {
	if err := dest.Validate(); err != nil {
		return "", err
	}
	if !dest.IsTopic() {
		return dest.Name(), nil
	}
	if cfg == nil || cfg.Subscription == "" {
		return "", errors.New("azure: a subscription is required to consume from a topic")
	}
	return fmt.Sprintf("%s/Subscriptions/%s", dest.Name(), cfg.Subscription), nil
}
