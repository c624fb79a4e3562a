package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/thejerf/suture/v4"
)

func TestSanitizeError(t *testing.T) {
	live := context.Background()
	done, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name       string
		ctx        context.Context
		err        error
		wantNil    bool
		wantCancel bool
	}{
		{"nil", live, nil, true, false},
		{"plain error", live, stderrors.New("boom"), false, false},
		{"foreign cancel", live, fmt.Errorf("dial: %w", context.Canceled), false, false},
		{"own cancel", done, stderrors.New("boom"), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizeError(tt.ctx, tt.err)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("sanitizeError() = %v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("sanitizeError() = nil")
			}
			if isCancel := stderrors.Is(got, context.Canceled); isCancel != tt.wantCancel {
				t.Errorf("Is(Canceled) = %v, want %v (err %v)", isCancel, tt.wantCancel, got)
			}
		})
	}
}

func TestSanitizeErrorKeepsSutureSignals(t *testing.T) {
	err := stderrors.Join(context.Canceled, suture.ErrDoNotRestart)
	got := sanitizeError(context.Background(), err)
	if !stderrors.Is(got, suture.ErrDoNotRestart) {
		t.Errorf("sanitizeError() lost ErrDoNotRestart: %v", got)
	}
	if stderrors.Is(got, context.Canceled) {
		t.Errorf("sanitizeError() kept context.Canceled: %v", got)
	}
}

func TestNamedServiceString(t *testing.T) {
	s := namedService{name: "backend watch", fn: func(context.Context) error { return nil }}
	if s.String() != "backend watch" {
		t.Errorf("String() = %q", s.String())
	}
	if err := s.Serve(context.Background()); err != nil {
		t.Errorf("Serve() = %v", err)
	}
}
