// Package errors provides examples of structured error handling in dctables.
package errors_test

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/dctables/pkg/errors"
)

// Example demonstrates basic error creation and wrapping.
func Example() {
	err := errors.New(errors.ErrorTypeConnection, "node did not answer").
		WithDetail("node", "v_vmart_node0002").
		WithDetail("collector", "dc_requests_issued")

	fmt.Println(err.Error())

	// Output:
	// connection: node did not answer
}

// ExampleWrap shows how a fetch timeout is wrapped with context.
func ExampleWrap() {
	err := errors.Wrap(context.DeadlineExceeded, errors.ErrorTypeTimeout, "fetch exceeded bound").
		WithDetail("node", "v_vmart_node0003")

	if errors.IsType(err, errors.ErrorTypeTimeout) {
		fmt.Println("This is a timeout")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		fmt.Println("Cause is the context deadline")
	}

	// Output:
	// This is a timeout
	// Cause is the context deadline
}

// ExampleIsRetryable shows which error classes a caller may retry.
func ExampleIsRetryable() {
	connErr := errors.New(errors.ErrorTypeConnection, "dial tcp: connection refused")
	cfgErr := errors.New(errors.ErrorTypeConfig, "cluster.nodes is empty")

	fmt.Println(errors.IsRetryable(connErr))
	fmt.Println(errors.IsRetryable(cfgErr))

	// Output:
	// true
	// false
}

// Example_errorChain shows how a sync failure carries its cause.
func Example_errorChain() {
	err := errors.New(errors.ErrorTypeQuery, "no such table: v_internal.vertica_log")
	err = errors.Wrap(err, errors.ErrorTypeSync, "bootstrap failed").
		WithDetail("table", "vertica_log")

	fmt.Println(err)
	fmt.Println(errors.IsType(err, errors.ErrorTypeSync))
	fmt.Println(errors.IsType(err, errors.ErrorTypeQuery))

	// Output:
	// sync: bootstrap failed: query: no such table: v_internal.vertica_log
	// true
	// false
}

// ExampleNewf shows formatted messages.
func ExampleNewf() {
	err := errors.Newf(errors.ErrorTypeValidation, "column %d must be %q", 1, "node_name")
	fmt.Println(err)

	// Output:
	// validation: column 1 must be "node_name"
}
