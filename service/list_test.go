package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaypath/swiftengine/conn"
)

// TestListContainerPagesUntilEmpty confirms marker continuation across
// 14 one-element pages terminated by an empty page, and that the
// bounded output channel never blocks the caller out of existence:
// exactly 14 successful pages are produced.
func TestListContainerPagesUntilEmpty(t *testing.T) {
	fc := newFakeConnection()
	pages := make([][]conn.ObjectInfo, 0, 15)
	for i := 0; i < 14; i++ {
		pages = append(pages, []conn.ObjectInfo{{Name: fmt.Sprintf("item%02d", i), Bytes: 1}})
	}
	pages = append(pages, []conn.ObjectInfo{})
	fc.containerPages["bigcontainer"] = pages

	svc := newTestService(fc)
	results := drain(svc.ListContainer(context.Background(), "bigcontainer", ListOptions{}))

	require.Len(t, results, 14)
	for i, r := range results {
		require.True(t, r.Success)
		listing, _ := r.Get("listing").([]conn.ObjectInfo)
		require.Len(t, listing, 1)
		assert.Equal(t, fmt.Sprintf("item%02d", i), listing[0].Name)
		assert.Equal(t, "bigcontainer", r.Str("container"))
	}
}

// TestListContainerEmptyFirstPage confirms an immediately empty
// container yields no results at all: the terminating empty page is
// never enqueued (spec §8 scenario 6).
func TestListContainerEmptyFirstPage(t *testing.T) {
	fc := newFakeConnection()
	fc.containerPages["empty"] = [][]conn.ObjectInfo{{}}

	svc := newTestService(fc)
	results := drain(svc.ListContainer(context.Background(), "empty", ListOptions{}))

	assert.Empty(t, results)
}
