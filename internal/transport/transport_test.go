package transport

import "testing"

func TestClampedBatchSize(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want int
	}{
		{"zero defaults", Config{}, defaultBatchSize},
		{"below minimum clamps up", Config{BatchSize: 4}, minBatchSize},
		{"above maximum clamps down", Config{BatchSize: 5000}, maxBatchSize},
		{"within range passes through", Config{BatchSize: 512}, 512},
		{"exact minimum", Config{BatchSize: minBatchSize}, minBatchSize},
		{"exact maximum", Config{BatchSize: maxBatchSize}, maxBatchSize},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.cfg.clampedBatchSize(); got != c.want {
				t.Fatalf("clampedBatchSize() = %d, want %d", got, c.want)
			}
		})
	}
}

func TestErrPermissionDeniedWrapsCause(t *testing.T) {
	cause := errTestCause{}
	err := ErrPermissionDenied(cause)
	if err == nil {
		t.Fatal("expected non-nil error")
	}
	if got := err.Error(); got == "" {
		t.Fatal("expected non-empty error message")
	}
}

type errTestCause struct{}

func (errTestCause) Error() string { return "operation not permitted" }
