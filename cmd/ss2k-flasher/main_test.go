package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/smartspin2k/ss2k-flasher/internal/flasherr"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{context.Canceled, "Aborted."},
		{fmt.Errorf("flash: %w", context.Canceled), "Aborted."},
		{flasherr.New(flasherr.NoPortFound, "No serial port found"), "No serial port found"},
		{errors.New("boom"), "boom"},
	}

	for _, tc := range tests {
		if got := errorMessage(tc.err); got != tc.want {
			t.Errorf("errorMessage(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
