package service

import (
	"context"

	"github.com/relaypath/swiftengine/executor"
	"github.com/relaypath/swiftengine/options"
)

// PostObject applies metadata/header updates to an existing object via
// POST (spec §4.5.5). The SwiftPostObject's own validation
// (object_name must be non-empty) already ran in NewSwiftPostObject.
func (s *SwiftService) PostObject(ctx context.Context, container string, post *SwiftPostObject) *executor.Result {
	var headerItems []string
	if raw, ok := post.Options["header"].([]string); ok {
		headerItems = raw
	}
	headers, err := options.SplitHeaders(headerItems, "X-Object-Meta-")
	if err != nil {
		return errorResult(executor.ActionPostObject, 0, err)
	}

	c, err := s.pool.Borrow(ctx)
	if err != nil {
		return errorResult(executor.ActionPostObject, 0, err)
	}
	postErr := c.PostObject(ctx, container, post.ObjectName, toConnHeaders(headers))
	r := &executor.Result{Action: executor.ActionPostObject, Success: postErr == nil, Attempts: c.Attempts()}
	r.Set("container", container).Set("object", post.ObjectName)
	if postErr != nil {
		fillError(r, postErr)
	}
	return r
}
