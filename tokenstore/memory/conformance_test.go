package memory

import (
	"testing"
	"time"

	"github.com/pooledstream/psep/tokenstore"
	"github.com/pooledstream/psep/tokenstore/conformance"
)

func TestConformance(t *testing.T) {
	conformance.RunConformanceSuite(t, func(t *testing.T, claimTTL time.Duration) (tokenstore.TokenStore, func()) {
		return New(claimTTL), func() {}
	})
}
