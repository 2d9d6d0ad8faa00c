package workflowerrors

import (
	"reflect"

	goerrors "github.com/go-errors/errors"
)

func getErrorType(err error) string {
	t := reflect.TypeOf(err)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	return t.Name()
}

func stack(message string) string {
	goerr := goerrors.New(message)
	return string(goerr.Stack())
}
