package workflowerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_FromError_Nil(t *testing.T) {
	err := FromError(nil)
	require.Nil(t, err)
}

func Test_FromError_DoesNotWrapAgain(t *testing.T) {
	err := FromError(errors.New("foo"))

	err2 := FromError(err)
	require.NoError(t, errors.Unwrap(err2))
}

func Test_RoundTrip_PanicError(t *testing.T) {
	input := NewPanicError("foo")
	e := FromError(input)

	output := ToError(e)
	require.Equal(t, input, output)
}

func Test_RoundTrip_CanceledError(t *testing.T) {
	input := NewCanceledError()
	e := FromError(input)

	output := ToError(e)
	require.IsType(t, &CanceledError{}, output)
	require.EqualError(t, output, "workflow canceled")
}
