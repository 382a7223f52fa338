package pipeline

import (
	"os"
	"testing"

	"wherespace-go/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init("error", "json", "")
	os.Exit(m.Run())
}
