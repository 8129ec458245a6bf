package service

import (
	"context"

	"github.com/relaypath/swiftengine/conn"
	"github.com/relaypath/swiftengine/executor"
)

// StatObject HEADs a single object and returns its headers as the
// response_dict (spec §4.5.5).
func (s *SwiftService) StatObject(ctx context.Context, container, object string) *executor.Result {
	c, err := s.pool.Borrow(ctx)
	if err != nil {
		return errorResult(executor.ActionStatObject, 0, err)
	}
	info, headers, statErr := c.HeadObject(ctx, container, object)
	r := &executor.Result{Action: executor.ActionStatObject, Success: statErr == nil, Attempts: c.Attempts(), ResponseDict: responseDict(headers)}
	r.Set("container", container).Set("object", object).Set("bytes", info.Bytes).Set("content_type", info.ContentType)
	if statErr != nil {
		fillError(r, statErr)
	}
	return r
}

// StatContainer HEADs a container.
func (s *SwiftService) StatContainer(ctx context.Context, container string) *executor.Result {
	c, err := s.pool.Borrow(ctx)
	if err != nil {
		return errorResult(executor.ActionStatContainer, 0, err)
	}
	headers, statErr := c.HeadContainer(ctx, container)
	r := &executor.Result{Action: executor.ActionStatContainer, Success: statErr == nil, Attempts: c.Attempts(), ResponseDict: responseDict(headers)}
	r.Set("container", container)
	if statErr != nil {
		fillError(r, statErr)
	}
	return r
}

// StatAccount issues a get_account call (a container listing with no
// prefix or marker) rather than a HEAD, and reports the headers that
// call returns as response_dict. The swift-backed conn.Connection
// returns no headers from GetAccount, so with it response_dict is
// empty.
func (s *SwiftService) StatAccount(ctx context.Context) *executor.Result {
	c, err := s.pool.Borrow(ctx)
	if err != nil {
		return errorResult(executor.ActionStatAccount, 0, err)
	}
	_, headers, statErr := c.GetAccount(ctx, conn.AccountOpts{})
	r := &executor.Result{Action: executor.ActionStatAccount, Success: statErr == nil, Attempts: c.Attempts(), ResponseDict: responseDict(headers)}
	if statErr != nil {
		fillError(r, statErr)
	}
	return r
}
