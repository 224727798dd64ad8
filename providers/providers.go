// Package providers imports all available kyusub providers.
// Use this package when you want to support multiple providers
// and switch between them via configuration.
//
// Usage:
//
//	import _ "github.com/venderneutral/kyusub/providers"
package providers

import (
	_ "github.com/venderneutral/kyusub/providers/activemq"
	_ "github.com/venderneutral/kyusub/providers/azure"
	_ "github.com/venderneutral/kyusub/providers/memory"
)
