package provider

import (
	"context"
	"fmt"
)

// maxPages guards against a vendor that never stops handing out cursors
const maxPages = 500

// PageFunc fetches one page starting at cursor ("" for the first page) and
// returns the items and the cursor for the next page ("" when there is none).
type PageFunc[T any] func(ctx context.Context, cursor string) (items []T, next string, err error)

// CollectPages walks a cursor-paginated listing. It stops on an empty page,
// on a page shorter than pageSize (when pageSize > 0) or when no cursor is returned.
func CollectPages[T any](ctx context.Context, pageSize int, fetch PageFunc[T]) ([]T, error) {
	var all []T
	cursor := ""
	for page := 0; page < maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		items, next, err := fetch(ctx, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if len(items) == 0 || next == "" || (pageSize > 0 && len(items) < pageSize) {
			return all, nil
		}
		if next == cursor {
			return nil, fmt.Errorf("pagination cursor %q did not advance", cursor)
		}
		cursor = next
	}
	return nil, fmt.Errorf("pagination exceeded %d pages", maxPages)
}
