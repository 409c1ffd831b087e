package dealstore

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/dealsync/internal/deals"
)

type Options struct {
	// OperationTimeout bounds every single store call.
	OperationTimeout time.Duration
}

type StoreFactory func(dsn string, opts Options) (Store, error)

var storeFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]StoreFactory
}{
	factories: map[string]StoreFactory{},
}

// RegisterStoreFactory makes BuildStoreFromDSN route scheme to factory.
// Registered schemes take precedence over the built-in ones.
func RegisterStoreFactory(scheme string, factory StoreFactory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	storeFactoryRegistry.mu.Lock()
	defer storeFactoryRegistry.mu.Unlock()
	storeFactoryRegistry.factories[scheme] = factory
}

func lookupStoreFactory(scheme string) (StoreFactory, bool) {
	scheme = normalizeScheme(scheme)
	storeFactoryRegistry.mu.RLock()
	defer storeFactoryRegistry.mu.RUnlock()
	factory, ok := storeFactoryRegistry.factories[scheme]
	return factory, ok
}

func BuildStoreFromDSN(dsn string, opts Options) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: store dsn is empty", deals.ErrInvalidInput)
	}
	scheme := dsnScheme(dsn)
	if factory, ok := lookupStoreFactory(scheme); ok {
		return factory(dsn, opts)
	}
	switch scheme {
	case "memory", "mem", "inmem":
		return NewInMemoryStore(), nil
	case "postgres", "postgresql":
		return NewPostgresStore(dsn, opts)
	case "mysql":
		return NewMySQLStore(dsn, opts)
	default:
		return nil, fmt.Errorf("unsupported store scheme: %q", scheme)
	}
}

// dsnScheme extracts the scheme without fully parsing the DSN. MySQL driver
// DSNs such as user:pw@tcp(host:3306)/db are not URLs and map to "mysql".
func dsnScheme(dsn string) string {
	idx := strings.Index(dsn, "://")
	if idx <= 0 {
		if strings.Contains(dsn, "@tcp(") || strings.Contains(dsn, "@unix(") {
			return "mysql"
		}
		return ""
	}
	return normalizeScheme(dsn[:idx])
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
