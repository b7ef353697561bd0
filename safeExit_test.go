package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeExit_Cleanup(t *testing.T) {
	s := NewSafeExit(context.Background())
	var order []int
	s.Register(func() { order = append(order, 1) })
	s.Register(func() { order = append(order, 2) })

	assert.NoError(t, s.Context().Err())
	s.Cleanup()
	s.Cleanup()

	assert.Equal(t, []int{2, 1}, order)
	assert.ErrorIs(t, s.Context().Err(), context.Canceled)
}
