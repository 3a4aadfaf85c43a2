package classify

import (
	"errors"
	"testing"

	"github.com/m-lab/estats-collector/winapi"
)

func TestOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{nil, None},
		{winapi.ErrAccessDenied, Fatal},
		{winapi.ErrNoData, Transient},
		{errors.New("boom"), Transient},
	}
	for _, c := range cases {
		if got := Of(c.err); got != c.want {
			t.Errorf("Of(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
