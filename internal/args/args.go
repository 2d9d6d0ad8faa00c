package args

import (
	"context"
	"fmt"
	"reflect"

	"github.com/atlasflow/durable/backend/converter"
	"github.com/atlasflow/durable/backend/payload"
	"github.com/atlasflow/durable/internal/sync"
)

func ArgsToInputs(c converter.Converter, args ...any) ([]payload.Payload, error) {
	inputs := make([]payload.Payload, 0, len(args))

	for _, arg := range args {
		input, err := c.To(arg)
		if err != nil {
			return nil, fmt.Errorf("converting args to inputs: %w", err)
		}
		inputs = append(inputs, input)
	}

	return inputs, nil
}

// InputsToArgs decodes the given payloads into the parameter types of fn. The
// returned bool indicates whether fn takes a context as its first parameter,
// which the caller has to prepend before invoking.
func InputsToArgs(c converter.Converter, fn reflect.Value, inputs []payload.Payload) ([]reflect.Value, bool, error) {
	addContext := false

	fnT := fn.Type()

	numArgs := fnT.NumIn()
	args := make([]reflect.Value, numArgs)

	input := 0
	for i := 0; i < numArgs; i++ {
		argT := fnT.In(i)

		if i == 0 && (IsOwnContext(argT) || isContext(argT)) {
			addContext = true
			continue
		}

		if input >= len(inputs) {
			return nil, false, fmt.Errorf("mismatched argument count: expected %d, got %d", numArgs, len(inputs))
		}

		arg := reflect.New(argT).Interface()
		if err := c.From(inputs[input], arg); err != nil {
			return nil, false, fmt.Errorf("converting input for parameter %d: %w", i, err)
		}

		args[i] = reflect.ValueOf(arg).Elem()

		input++
	}

	return args, addContext, nil
}

// ReturnTypeMatch checks that fn's first return value can be assigned to TResult.
func ReturnTypeMatch[TResult any](fn any) error {
	fnType := reflect.TypeOf(fn)
	if fnType.Kind() != reflect.Func {
		return fmt.Errorf("not a function")
	}

	if fnType.NumOut() == 1 {
		// Only an error is returned, any TResult works as long as the caller
		// ignores the zero value.
		return nil
	}

	resultType := reflect.TypeOf((*TResult)(nil)).Elem()
	if fnType.Out(0) != resultType && !fnType.Out(0).AssignableTo(resultType) {
		return fmt.Errorf("mismatched return type: expected %s, got %s", resultType, fnType.Out(0))
	}

	return nil
}

// ParamsMatch checks that the given arguments match fn's parameters, ignoring a
// leading context parameter.
func ParamsMatch(fn any, args ...any) error {
	fnType := reflect.TypeOf(fn)
	if fnType.Kind() != reflect.Func {
		return fmt.Errorf("not a function")
	}

	numIn := fnType.NumIn()
	skip := 0
	if numIn > 0 && (IsOwnContext(fnType.In(0)) || isContext(fnType.In(0))) {
		skip = 1
	}

	if numIn-skip != len(args) {
		return fmt.Errorf("mismatched argument count: expected %d, got %d", numIn-skip, len(args))
	}

	for i, arg := range args {
		if arg == nil {
			continue
		}

		paramType := fnType.In(i + skip)
		argType := reflect.TypeOf(arg)
		if !argType.AssignableTo(paramType) && !argType.ConvertibleTo(paramType) {
			return fmt.Errorf("mismatched argument type for parameter %d: expected %s, got %s", i, paramType, argType)
		}
	}

	return nil
}

// IsOwnContext reports whether the given type is the workflow context type.
func IsOwnContext(inType reflect.Type) bool {
	contextElem := reflect.TypeOf((*sync.Context)(nil)).Elem()
	return inType != nil && inType.Implements(contextElem)
}

func isContext(inType reflect.Type) bool {
	contextElem := reflect.TypeOf((*context.Context)(nil)).Elem()
	return inType != nil && inType.Implements(contextElem)
}
