package workflow

import (
	"fmt"

	"github.com/atlasflow/durable/internal/args"
	"github.com/atlasflow/durable/internal/contextvalue"
	"github.com/atlasflow/durable/internal/continueasnew"
)

// ContinueAsNew restarts the workflow as a fresh execution with the given
// inputs. Return the result of this call from the workflow function:
//
//	return workflow.ContinueAsNew(ctx, newArgs...)
func ContinueAsNew(ctx Context, inputs ...any) error {
	cv := contextvalue.Converter(ctx)

	payloads, err := args.ArgsToInputs(cv, inputs...)
	if err != nil {
		return fmt.Errorf("converting inputs: %w", err)
	}

	return continueasnew.NewError(payloads)
}
