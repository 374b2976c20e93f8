package entity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRejection(t *testing.T) {
	t.Parallel()

	cause := errors.New("timeout")
	r := Reject("https://auto.ria.com/uk/auto_1.html", RejectNavigation, cause)

	assert.False(t, r.Fatal())
	assert.ErrorIs(t, r, cause)
	assert.Equal(t, "navigation: https://auto.ria.com/uk/auto_1.html: timeout", r.Error())

	var target *Rejection
	wrapped := errors.Join(errors.New("ctx"), r)
	assert.True(t, errors.As(wrapped, &target))
	assert.Equal(t, RejectNavigation, target.Reason)

	assert.True(t, Reject("https://auto.ria.com/uk/car/used/", RejectSeedFetch, nil).Fatal())
}
