package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("CRAFTLINE_TEST_MODE") == "" {
			_ = os.Setenv("CRAFTLINE_TEST_MODE", "1")
		}
	})
}
