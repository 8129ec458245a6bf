package service

import (
	"context"

	"github.com/relaypath/swiftengine/executor"
)

// CopyObject copies an object server-side to a (possibly different)
// destination container/name (spec §4.5.5), adapted from rclone's
// (f *Fs) Copy / copyLargeObject in backend/swift/swift.go for the
// plain-object case; large-object copy is out of this façade's scope
// the same way the source command-line tool delegates segmented copy
// to a fresh upload.
func (s *SwiftService) CopyObject(ctx context.Context, srcContainer, srcObject, dstContainer, dstObject string) *executor.Result {
	c, err := s.pool.Borrow(ctx)
	if err != nil {
		return errorResult(executor.ActionCopyObject, 0, err)
	}
	headers, copyErr := c.CopyObject(ctx, srcContainer, srcObject, dstContainer, dstObject, nil)
	r := &executor.Result{Action: executor.ActionCopyObject, Success: copyErr == nil, Attempts: c.Attempts(), ResponseDict: responseDict(headers)}
	r.Set("container", dstContainer).Set("object", dstObject).
		Set("source_container", srcContainer).Set("source_object", srcObject)
	if copyErr != nil {
		fillError(r, copyErr)
	}
	return r
}
