package main

import (
	"testing"

	_ "github.com/odyssey-erp/jewel-ledger/internal/testing/guard"
)

func TestMainReturnsInTestMode(t *testing.T) {
	main()
}
