package mem_test

import (
	"testing"

	"github.com/eventframe/ces"
	"github.com/eventframe/ces/internal/storetest"
	"github.com/eventframe/ces/stores/mem"
)

func TestDriver_Compliance(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(t *testing.T) ces.Driver {
		t.Helper()
		return mem.New()
	})
}
