// Package guard switches the binaries into test mode when imported from a
// test, so main packages can be exercised without Postgres or Redis.
package guard

import (
	"os"
	"sync"

	"github.com/odyssey-erp/jewel-ledger/internal/app"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(app.TestModeEnv) == "" {
			_ = os.Setenv(app.TestModeEnv, "1")
		}
		app.RefreshTestMode()
	})
}
