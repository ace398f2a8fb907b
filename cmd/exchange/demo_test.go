package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDemo(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runDemo(&buf))

	out := buf.String()
	assert.Contains(t, out, "Order 1 placed at ")
	assert.Contains(t, out, "Buy 50 at $370.00")
	assert.Contains(t, out, "Trade: 2 @ 370.00 (maker 1, taker 2)")
	assert.Contains(t, out, "Total number of orders: 1\n")
}
