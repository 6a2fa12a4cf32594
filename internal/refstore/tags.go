package refstore

import (
	"context"
	"net/http"
	"strconv"
)

// AddTag adds tag to an item, keeping its other tags.
func (c *Client) AddTag(ctx context.Context, itemKey, tag string) error {
	return c.editTags(ctx, "add tag", itemKey, func(tags []string) []string {
		for _, t := range tags {
			if t == tag {
				return nil
			}
		}
		return append(tags, tag)
	})
}

// ReplaceTag swaps oldTag for newTag on an item. newTag is added even when
// oldTag is absent.
func (c *Client) ReplaceTag(ctx context.Context, itemKey, oldTag, newTag string) error {
	return c.editTags(ctx, "replace tag", itemKey, func(tags []string) []string {
		out := make([]string, 0, len(tags)+1)
		seen := false
		changed := false
		for _, t := range tags {
			if t == oldTag {
				t = newTag
				changed = true
			}
			if t == newTag {
				if seen {
					continue
				}
				seen = true
			}
			out = append(out, t)
		}
		if !seen {
			out = append(out, newTag)
			changed = true
		}
		if !changed {
			return nil
		}
		return out
	})
}

// editTags reads the item, applies edit and patches the result guarded by
// the item version. A nil edit result means nothing to change.
func (c *Client) editTags(ctx context.Context, op, itemKey string, edit func([]string) []string) error {
	var it apiItem
	if _, err := c.getJSON(ctx, op, "/items/"+itemKey, nil, &it); err != nil {
		return err
	}
	current := make([]string, 0, len(it.Data.Tags))
	for _, t := range it.Data.Tags {
		current = append(current, t.Tag)
	}
	next := edit(current)
	if next == nil {
		return nil
	}

	body := struct {
		Tags []apiTag `json:"tags"`
	}{Tags: make([]apiTag, len(next))}
	for i, t := range next {
		body.Tags[i] = apiTag{Tag: t}
	}
	_, err := c.do(ctx, op, request{
		method: http.MethodPatch,
		path:   "/items/" + itemKey,
		body:   body,
		header: http.Header{"If-Unmodified-Since-Version": {strconv.FormatInt(it.Version, 10)}},
	})
	if err == nil {
		c.logger.Info("updated tags", "item", itemKey, "op", op)
	}
	return err
}
