package memory_test

import (
	"testing"

	"github.com/xraph/export/store"
	"github.com/xraph/export/store/memory"
	"github.com/xraph/export/store/storetest"
)

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return memory.New() })
}
